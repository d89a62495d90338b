package tempfiles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const dirMode = 0o700

// Dir hands out unique paths for uploads and results under one root and
// removes them again.
type Dir struct {
	root string
}

// New creates root if needed.
func New(root string) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("tempfiles: root must not be empty")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("tempfiles: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Root() string {
	return d.root
}

// InputPath returns a fresh path for a file uploaded by userID.
func (d *Dir) InputPath(userID int64, filename string) string {
	return filepath.Join(d.root, strconv.FormatInt(userID, 10)+"_"+uuid.NewString()+"_"+safeBase(filename))
}

// OutputPath returns a fresh path for the result file of article.
func (d *Dir) OutputPath(article string) string {
	return filepath.Join(d.root, uuid.NewString()+"_"+ResultName(article))
}

// ResultName is the file name users see for the result of article.
func ResultName(article string) string {
	return "codes_" + safeBase(article) + ".xlsx"
}

// Remove deletes path. A file that is already gone is not an error.
func (d *Dir) Remove(path string) error {
	if !d.contains(path) {
		return fmt.Errorf("tempfiles: refusing to remove %s outside %s", path, d.root)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tempfiles: remove %s: %w", path, err)
	}
	return nil
}

// Purge removes everything under the root and returns the number of
// entries deleted. Failures are joined into the returned error.
func (d *Dir) Purge() (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("tempfiles: list %s: %w", d.root, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (d *Dir) contains(path string) bool {
	rel, err := filepath.Rel(d.root, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func safeBase(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}
