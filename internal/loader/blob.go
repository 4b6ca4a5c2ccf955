package loader

import (
	"fmt"

	"github.com/fwtables/tableloader/internal/mem"
)

// Blob is one materialized named byte range. Its memory covers whole
// pages; Size is the number of bytes actually copied from the
// configuration source, the page tail beyond it is zero.
type Blob struct {
	Name   string
	Size   uint64
	Region mem.Region

	// TableData reports whether the blob content is directly part of the
	// platform description tables and should be split into installable
	// records. Cleared when the host keeps a live pointer into the blob.
	TableData bool
}

// Base returns the blob's absolute address.
func (b *Blob) Base() uint64 {
	return b.Region.Base
}

// Data returns the blob content, excluding the zero page tail.
func (b *Blob) Data() []byte {
	return b.Region.Data[:b.Size]
}

// Directory is the name-keyed, insertion-ordered collection of all blobs
// materialized during one pass. Names are unique; a duplicate insert
// indicates a hostile or corrupt script.
type Directory struct {
	blobs []*Blob
	index map[string]*Blob
}

// NewDirectory returns an empty blob directory.
func NewDirectory() *Directory {
	return &Directory{
		index: map[string]*Blob{},
	}
}

// Insert adds a new blob to the directory.
func (d *Directory) Insert(blob *Blob) error {
	if _, ok := d.index[blob.Name]; ok {
		return fmt.Errorf("%w: file '%s' already allocated", ErrFormat, blob.Name)
	}

	d.blobs = append(d.blobs, blob)
	d.index[blob.Name] = blob
	return nil
}

// Find returns the blob with the given name, or nil.
func (d *Directory) Find(name string) *Blob {
	return d.index[name]
}

// Blobs returns all blobs in insertion order.
func (d *Directory) Blobs() []*Blob {
	return d.blobs
}

// Len returns the number of blobs in the directory.
func (d *Directory) Len() int {
	return len(d.blobs)
}
