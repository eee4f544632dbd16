package providers

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// SharedLibEnv overrides the location of the ONNX Runtime shared library.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the ONNX Runtime shared library for the
// current platform, honoring SharedLibEnv.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if the platform has no known default.
func GetSharedLibPath() (string, error) {
	if p := os.Getenv(SharedLibEnv); p != "" {
		return p, nil
	}
	switch runtime.GOOS {
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "/usr/lib/aarch64-linux-gnu/libonnxruntime.so", nil
		}
		return "/usr/lib/x86_64-linux-gnu/libonnxruntime.so", nil
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}
