package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// HashBytes returns the uppercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)

	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func HashFile(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("cannot hash file %s: %w", path, err)
	}

	return strings.ToUpper(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashEqual compares digests case-insensitively.
func HashEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

func FileExists(fs afero.Fs, path string) bool {
	stat, err := fs.Stat(path)
	if err != nil {
		return false
	}

	return !stat.IsDir()
}

// SafeJoin joins a slash separated relative path onto root, rejecting paths that
// would leave it.
func SafeJoin(root, rel string) (string, bool) {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) || filepath.IsAbs(rel) {
		return "", false
	}

	for _, part := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", false
		}
	}

	return filepath.Join(root, filepath.FromSlash(rel)), true
}

// RemoveIfEmpty removes dir only when it has no entries. It reports whether the
// directory was removed; a non-empty directory is not an error.
func RemoveIfEmpty(fs afero.Fs, dir string) (bool, error) {
	stat, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("cannot stat dir %s: %w", dir, err)
	}

	if !stat.IsDir() {
		return false, nil
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return false, fmt.Errorf("cannot read dir %s: %w", dir, err)
	}

	if len(entries) > 0 {
		return false, nil
	}

	if err := fs.Remove(dir); err != nil {
		return false, fmt.Errorf("cannot remove dir %s: %w", dir, err)
	}

	return true, nil
}
