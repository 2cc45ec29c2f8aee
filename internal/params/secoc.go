package params

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// userKeyLen is the hex length of a 16-byte key.
const userKeyLen = 32

// ImportUserSecOCKey copies a key the user placed at <cacheDir>/params/SecOCKey
// into the store. Files of any other length are ignored. It reports
// whether a key was copied.
func (s *Store) ImportUserSecOCKey(cacheDir string) (bool, error) {
	if cacheDir == "" {
		return false, nil
	}
	path := filepath.Join(cacheDir, "params", SecOCKey)
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("params: read user key: %w", err)
	}
	key := strings.TrimSpace(string(b))
	if len(key) != userKeyLen {
		return false, nil
	}
	if err := s.Put(SecOCKey, []byte(key)); err != nil {
		return false, err
	}
	return true, nil
}
