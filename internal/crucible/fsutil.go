package crucible

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// rmTree removes a directory tree. Build backends leave read-only files
// behind (ninja deps databases, checked-out test inputs), so a failed
// removal gets one more chance after stripping write protection.
func rmTree(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err == nil {
		return nil
	}
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		_ = os.Chmod(p, 0o777)
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("failed to reset permissions under %s: %w", path, walkErr)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// recreateDir wipes any prior content and leaves an empty directory behind.
func recreateDir(path string) error {
	if err := rmTree(path); err != nil {
		return err
	}
	return ensureDir(path)
}
