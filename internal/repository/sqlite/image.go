package sqlite

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tempPrefix marks half-copied files. The orphan sweep removes stale ones.
const tempPrefix = ".incoming-"

// imageStore owns the files under dir.
//
// FILE NAMES:
// A stored image keeps the base name of the file it was copied from. Two
// sources with the same base name map to the same stored file and the later
// copy wins. That is an accepted limitation; Delete compensates by keeping a
// file that another row still points at.
type imageStore struct {
	dir string
}

// PathFor is where Store puts a copy of src.
func (s *imageStore) PathFor(src string) string {
	return filepath.Join(s.dir, filepath.Base(src))
}

// Store copies src into the image directory and returns the new path.
//
// The copy goes to a temp file first and is renamed into place only once it
// is complete and synced, so a crash or a failed read never leaves a
// truncated photo where a good one used to be. Every handle opened here is
// closed on every return path, and the temp file is removed unless the
// rename happened.
func (s *imageStore) Store(src string) (_ string, err error) {
	name := filepath.Base(src)
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, tempPrefix) {
		return "", fmt.Errorf("invalid image name %q", src)
	}
	dst := s.PathFor(src)

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening source image: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	renamed := false
	defer func() {
		// Close is a no-op error if we already closed it below.
		tmp.Close()
		if !renamed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return "", fmt.Errorf("copying image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("moving image into place: %w", err)
	}
	renamed = true

	return dst, nil
}

// Remove deletes a stored image. Files outside the image directory are never
// touched, and a file that is already gone is not an error.
func (s *imageStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if !s.owns(path) {
		return fmt.Errorf("refusing to remove %s: not in image directory", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *imageStore) owns(path string) bool {
	return filepath.Dir(filepath.Clean(path)) == s.dir
}
