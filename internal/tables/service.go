package tables

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirInstaller is a table-installation service that writes each record to
// a numbered file below a directory. It backs the command line tool;
// firmware integrations provide their own Service.
type DirInstaller struct {
	dir  string
	next Handle
}

// NewDirInstaller returns a service writing records below dir, creating
// it if needed.
func NewDirInstaller(dir string) (*DirInstaller, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory '%s': %w", dir, err)
	}
	return &DirInstaller{dir: dir}, nil
}

// Install implements Service.
func (d *DirInstaller) Install(record []byte) (Handle, error) {
	if len(record) == 0 {
		return 0, fmt.Errorf("empty record")
	}

	handle := d.next
	name := fmt.Sprintf("%03d-type%d.bin", handle, record[0])
	path := filepath.Join(d.dir, name)

	if err := os.WriteFile(path, record, 0o644); err != nil {
		return 0, fmt.Errorf("writing record file '%s': %w", path, err)
	}

	d.next++
	return handle, nil
}
