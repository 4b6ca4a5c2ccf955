package fwcfg

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/retroenv/retrogolib/set"
)

// DirSource reads configuration items from a directory tree, one file per
// item, with the item name as relative path. This matches the layout of
// an exported fw_cfg tree (e.g. /sys/firmware/qemu_fw_cfg/by_name).
type DirSource struct {
	root     string
	writable set.Set[string]
}

// NewDirSource returns a store backed by the given directory. Items named
// in writable may be written back to; their files are modified in place.
func NewDirSource(root string, writable ...string) *DirSource {
	writableSet := set.New[string]()
	for _, name := range writable {
		writableSet[name] = struct{}{}
	}
	return &DirSource{
		root:     root,
		writable: writableSet,
	}
}

// Find implements Source.
func (s *DirSource) Find(name string) (Item, error) {
	path, err := s.itemPath(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case err != nil:
		return nil, fmt.Errorf("stating item '%s': %w", name, err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	item := &fileItem{path: path, size: uint64(info.Size())}
	if _, ok := s.writable[name]; ok {
		return &writableFileItem{fileItem: *item}, nil
	}
	return item, nil
}

// itemPath maps an item name onto a file path below the root, rejecting
// names that would escape it.
func (s *DirSource) itemPath(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) ||
		filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("item name '%s' escapes the source root", name)
	}
	return filepath.Join(s.root, cleaned), nil
}

type fileItem struct {
	path string
	size uint64
}

func (i *fileItem) Size() uint64 {
	return i.size
}

func (i *fileItem) ReadInto(buf []byte) error {
	file, err := os.Open(i.path)
	if err != nil {
		return fmt.Errorf("opening item file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := io.ReadFull(file, buf); err != nil {
		return fmt.Errorf("reading %d bytes: %w", len(buf), err)
	}
	return nil
}

type writableFileItem struct {
	fileItem
}

func (i *writableFileItem) WriteAt(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > i.size {
		return fmt.Errorf("writing %d bytes at offset %d of %d byte item",
			len(data), offset, i.size)
	}

	file, err := os.OpenFile(i.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening item file for writing: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("writing item file: %w", err)
	}
	return nil
}
