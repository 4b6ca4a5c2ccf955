// Package fwcfg provides access to the firmware configuration item store,
// the name-indexed byte store that blobs and the loader script are read
// from.
package fwcfg

import "errors"

// ErrNotFound is returned when a named item does not exist in the store.
var ErrNotFound = errors.New("fw_cfg item not found")

// Item is one selectable configuration item.
type Item interface {
	// Size returns the item size in bytes.
	Size() uint64
	// ReadInto reads exactly len(buf) bytes from the start of the item.
	ReadInto(buf []byte) error
}

// Source is a name-indexed configuration item store.
type Source interface {
	// Find looks up an item by its NUL-free name.
	Find(name string) (Item, error)
}

// Writable is implemented by items that accept host-visible writes, used
// for write-pointer feedback fields.
type Writable interface {
	Item
	// WriteAt overwrites len(data) bytes at the given offset.
	WriteAt(offset uint64, data []byte) error
}
