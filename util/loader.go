// Package util - image discovery and decoding for the labelling run.
package util

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nvr-ai/go-pseudolabel/inference"
	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Name is the base name of the file.
	Name string
	// ID is the image id parsed from the file name.
	ID int64
}

// ImageIDFromFilename parses the image id from a file name such as "000000123456.jpg".
// Leading zeros are ignored.
//
// Arguments:
//   - name: The file name or path.
//
// Returns:
//   - int64: The image id.
//   - error: An error if the stem is not a non-negative integer.
func ImageIDFromFilename(name string) (int64, error) {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	id, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.Errorf("image name %q does not start with a numeric id", base)
	}
	return id, nil
}

// ListImageFiles finds all .jpg, .jpeg and .png files in a directory, sorted by image id.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The image files.
//   - error: An error if the directory cannot be read or a name carries no id.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read image directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			id, err := ImageIDFromFilename(entry.Name())
			if err != nil {
				return nil, err
			}
			files = append(files, ImageFile{
				Path: filepath.Join(dir, entry.Name()),
				Name: entry.Name(),
				ID:   id,
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ID < files[j].ID
	})
	return files, nil
}

// DecodeImage reads and decodes one image file.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return img, nil
}

// DirectorySource yields decoded frames from a list of image files in fixed-size batches.
type DirectorySource struct {
	mu        sync.Mutex
	files     []ImageFile
	batchSize int
	next      int
}

// NewDirectorySource lists dir and batches its images.
func NewDirectorySource(dir string, batchSize int) (*DirectorySource, error) {
	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, err
	}
	return NewFileSource(files, batchSize), nil
}

// NewFileSource batches an explicit list of image files. A non-positive batch size means 1.
func NewFileSource(files []ImageFile, batchSize int) *DirectorySource {
	return &DirectorySource{files: files, batchSize: max(batchSize, 1)}
}

// Len returns the number of images.
func (s *DirectorySource) Len() int {
	return len(s.files)
}

// Next decodes the next batch. It returns io.EOF once every image has been read.
func (s *DirectorySource) Next(ctx context.Context) ([]inference.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	end := min(s.next+s.batchSize, len(s.files))
	frames := make([]inference.Frame, 0, end-s.next)
	for _, f := range s.files[s.next:end] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := DecodeImage(f.Path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, inference.Frame{ID: f.ID, Name: f.Name, Image: img})
	}
	s.next = end
	return frames, nil
}
