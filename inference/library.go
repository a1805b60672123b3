package inference

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// SharedLibraryPath resolves the onnxruntime shared library.
//
// Arguments:
//   - override: An explicit path. Empty falls back to the platform default under third_party/.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no library exists at the resolved path.
func SharedLibraryPath(override string) (string, error) {
	path := override
	if path == "" {
		path = defaultSharedLibraryPath()
	}
	if path == "" {
		return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "onnxruntime library not found at %s", path)
	}
	return path, nil
}

func defaultSharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
	return ""
}
