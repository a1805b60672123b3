package annotations

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const annotationsKey = "annotations"

// Dataset is a COCO-format JSON file. Every top-level field other than "annotations" is kept
// verbatim so images, categories and info survive a load/save round trip.
type Dataset struct {
	fields      map[string]json.RawMessage
	annotations []json.RawMessage
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{fields: make(map[string]json.RawMessage)}
}

// LoadDataset reads a COCO JSON file.
//
// Arguments:
//   - path: The dataset file.
//
// Returns:
//   - *Dataset: The dataset with its existing annotations.
//   - error: An error if the file cannot be read or parsed.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", path)
	}
	d := NewDataset()
	if err := json.Unmarshal(data, &d.fields); err != nil {
		return nil, errors.Wrapf(err, "parse dataset %s", path)
	}
	if raw, ok := d.fields[annotationsKey]; ok {
		delete(d.fields, annotationsKey)
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &d.annotations); err != nil {
				return nil, errors.Wrapf(err, "parse annotations of %s", path)
			}
		}
	}
	return d, nil
}

// Len returns the number of annotations, existing and appended.
func (d *Dataset) Len() int {
	return len(d.annotations)
}

// Field returns a raw top-level field.
func (d *Dataset) Field(name string) (json.RawMessage, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// MaxAnnotationID returns the largest "id" among the annotations, or 0 when there are none.
func (d *Dataset) MaxAnnotationID() (int64, error) {
	var maxID int64
	for i, raw := range d.annotations {
		var ann struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &ann); err != nil {
			return 0, errors.Wrapf(err, "annotation %d", i)
		}
		maxID = max(maxID, ann.ID)
	}
	return maxID, nil
}

// Append adds records after the existing annotations.
func (d *Dataset) Append(records ...Record) error {
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return errors.Wrapf(err, "encode annotation %d", r.ID)
		}
		d.annotations = append(d.annotations, raw)
	}
	return nil
}

// Save writes the dataset to path through a temporary file in the same directory that is
// renamed into place, so a failed write leaves any previous file intact.
//
// Arguments:
//   - path: The destination file.
//
// Returns:
//   - error: An error if encoding or writing fails.
func (d *Dataset) Save(path string) error {
	out := make(map[string]json.RawMessage, len(d.fields)+1)
	for k, v := range d.fields {
		out[k] = v
	}
	anns := d.annotations
	if anns == nil {
		anns = []json.RawMessage{}
	}
	raw, err := json.Marshal(anns)
	if err != nil {
		return errors.Wrap(err, "encode annotations")
	}
	out[annotationsKey] = raw

	data, err := json.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "encode dataset")
	}
	return writeAtomic(path, data)
}

// SaveRecords writes records as a dataset holding only an annotations list.
func SaveRecords(path string, records []Record) error {
	d := NewDataset()
	if err := d.Append(records...); err != nil {
		return err
	}
	return d.Save(path)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "close %s", name)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return errors.Wrapf(err, "rename %s to %s", name, path)
	}
	return nil
}
