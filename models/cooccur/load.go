package cooccur

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// countsFile is the JSON layout of a co-occurrence table.
type countsFile struct {
	CategoryIDs []int       `json:"category_ids"`
	Counts      [][]float64 `json:"counts"`
}

// Load reads raw counts from a .npy or .json file and normalizes them.
//
// Arguments:
//   - path: The counts file. The extension selects the format.
//   - ids: The category id of each row for .npy files. Nil means 1..n. Ignored for JSON files
//     that carry their own category_ids.
//
// Returns:
//   - *Matrix: The normalized matrix.
//   - error: An error if the file cannot be read or holds an invalid table.
func Load(path string, ids []int) (*Matrix, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return LoadNPY(path, ids)
	case ".json":
		return LoadJSON(path, ids)
	default:
		return nil, errors.Errorf("unsupported co-occurrence file %s", path)
	}
}

// LoadJSON reads counts from a JSON object with "counts" and optional "category_ids".
func LoadJSON(path string, ids []int) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read co-occurrence counts %s", path)
	}
	var f countsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parse co-occurrence counts %s", path)
	}
	n := len(f.Counts)
	if n == 0 {
		return nil, errors.Errorf("co-occurrence counts %s are empty", path)
	}
	backing := make([]float64, 0, n*n)
	for i, row := range f.Counts {
		if len(row) != n {
			return nil, errors.Errorf("co-occurrence counts %s: row %d has %d columns, want %d", path, i, len(row), n)
		}
		backing = append(backing, row...)
	}
	if f.CategoryIDs != nil {
		ids = f.CategoryIDs
	}
	m, err := FromCounts(mat.NewDense(n, n, backing), ids)
	if err != nil {
		return nil, errors.Wrapf(err, "co-occurrence counts %s", path)
	}
	return m, nil
}

// LoadNPY reads a 2-D numpy array of counts. Float and integer dtypes are accepted; integer
// counts are converted to float64.
func LoadNPY(path string, ids []int) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open co-occurrence counts %s", path)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read npy header %s", path)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return nil, errors.Errorf("co-occurrence counts %s: want a 2-D array, got shape %v", path, shape)
	}
	if r.Header.Descr.Fortran {
		return nil, errors.Errorf("co-occurrence counts %s: fortran order is not supported", path)
	}

	var backing []float64
	dtype := r.Header.Descr.Type
	switch strings.TrimLeft(dtype, "<>|=") {
	case "f8":
		err = r.Read(&backing)
	case "f4":
		var v []float32
		if err = r.Read(&v); err == nil {
			backing = widen(v)
		}
	case "i8":
		var v []int64
		if err = r.Read(&v); err == nil {
			backing = widen(v)
		}
	case "i4":
		var v []int32
		if err = r.Read(&v); err == nil {
			backing = widen(v)
		}
	default:
		return nil, errors.Errorf("co-occurrence counts %s: unsupported dtype %s", path, dtype)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read npy data %s", path)
	}

	m, err := FromCounts(mat.NewDense(shape[0], shape[1], backing), ids)
	if err != nil {
		return nil, errors.Wrapf(err, "co-occurrence counts %s", path)
	}
	return m, nil
}

func widen[T float32 | int64 | int32](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
