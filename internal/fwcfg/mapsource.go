package fwcfg

import (
	"fmt"
	"slices"

	"golang.org/x/exp/maps"
)

// MapSource is an in-memory configuration item store. It is used by tests
// and by embedders that already hold the item contents.
type MapSource struct {
	items    map[string][]byte
	writable map[string]bool
}

// NewMapSource returns an empty in-memory store.
func NewMapSource() *MapSource {
	return &MapSource{
		items:    map[string][]byte{},
		writable: map[string]bool{},
	}
}

// Set adds or replaces a read-only item.
func (s *MapSource) Set(name string, data []byte) {
	s.items[name] = data
}

// SetWritable adds or replaces a writable item.
func (s *MapSource) SetWritable(name string, data []byte) {
	s.items[name] = data
	s.writable[name] = true
}

// Bytes returns the current content of an item, or nil if it is absent.
func (s *MapSource) Bytes(name string) []byte {
	return s.items[name]
}

// Names returns all item names in sorted order.
func (s *MapSource) Names() []string {
	names := maps.Keys(s.items)
	slices.Sort(names)
	return names
}

// Find implements Source.
func (s *MapSource) Find(name string) (Item, error) {
	data, ok := s.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if s.writable[name] {
		return &writableMapItem{mapItem: mapItem{data: data}}, nil
	}
	return &mapItem{data: data}, nil
}

type mapItem struct {
	data []byte
}

func (i *mapItem) Size() uint64 {
	return uint64(len(i.data))
}

func (i *mapItem) ReadInto(buf []byte) error {
	if len(buf) > len(i.data) {
		return fmt.Errorf("reading %d bytes from %d byte item", len(buf), len(i.data))
	}
	copy(buf, i.data)
	return nil
}

type writableMapItem struct {
	mapItem
}

func (i *writableMapItem) WriteAt(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > uint64(len(i.data)) {
		return fmt.Errorf("writing %d bytes at offset %d of %d byte item",
			len(data), offset, len(i.data))
	}
	copy(i.data[offset:], data)
	return nil
}
