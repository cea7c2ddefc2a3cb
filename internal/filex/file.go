package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the per-user data directory for app, creating it if
// needed.
func DataDir(app string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return EnsureDir(filepath.Join(base, app))
}

// EnsureDir creates dir with owner/group permissions and returns it.
func EnsureDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureParentDir creates the directory holding file.
func EnsureParentDir(file string) error {
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return nil
	}
	_, err := EnsureDir(dir)
	return err
}
