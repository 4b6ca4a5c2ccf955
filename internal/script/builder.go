package script

import "encoding/binary"

// Builder assembles a binary loader script entry by entry. It is used by
// tests and by tooling that prepares fw_cfg trees.
type Builder struct {
	data []byte
}

// NewBuilder returns an empty script builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Bytes returns the script assembled so far.
func (b *Builder) Bytes() []byte {
	return b.data
}

// Allocate appends an allocate command.
func (b *Builder) Allocate(file string, alignment uint32, zone uint8) *Builder {
	entry := b.newEntry(CmdAllocate)
	putFileName(entry[4:], file)
	binary.LittleEndian.PutUint32(entry[4+FileNameSize:], alignment)
	entry[4+FileNameSize+4] = zone
	return b
}

// AddPointer appends an add-pointer command.
func (b *Builder) AddPointer(pointerFile, pointeeFile string, pointerOffset uint32, pointerSize uint8) *Builder {
	entry := b.newEntry(CmdAddPointer)
	putFileName(entry[4:], pointerFile)
	putFileName(entry[4+FileNameSize:], pointeeFile)
	binary.LittleEndian.PutUint32(entry[4+2*FileNameSize:], pointerOffset)
	entry[4+2*FileNameSize+4] = pointerSize
	return b
}

// AddChecksum appends an add-checksum command.
func (b *Builder) AddChecksum(file string, resultOffset, start, length uint32) *Builder {
	entry := b.newEntry(CmdAddChecksum)
	putFileName(entry[4:], file)
	binary.LittleEndian.PutUint32(entry[4+FileNameSize:], resultOffset)
	binary.LittleEndian.PutUint32(entry[4+FileNameSize+4:], start)
	binary.LittleEndian.PutUint32(entry[4+FileNameSize+8:], length)
	return b
}

// WritePointer appends a write-pointer command.
func (b *Builder) WritePointer(pointerFile, pointeeFile string, pointerOffset, pointeeOffset uint32, pointerSize uint8) *Builder {
	entry := b.newEntry(CmdWritePointer)
	putFileName(entry[4:], pointerFile)
	putFileName(entry[4+FileNameSize:], pointeeFile)
	binary.LittleEndian.PutUint32(entry[4+2*FileNameSize:], pointerOffset)
	binary.LittleEndian.PutUint32(entry[4+2*FileNameSize+4:], pointeeOffset)
	entry[4+2*FileNameSize+8] = pointerSize
	return b
}

// Raw appends one raw entry with the given kind and an empty body, used
// for terminator and unknown-kind entries.
func (b *Builder) Raw(kind CommandKind) *Builder {
	b.newEntry(kind)
	return b
}

func (b *Builder) newEntry(kind CommandKind) []byte {
	offset := len(b.data)
	b.data = append(b.data, make([]byte, EntrySize)...)
	entry := b.data[offset:]
	binary.LittleEndian.PutUint32(entry, uint32(kind))
	return entry
}

// putFileName copies a name into a fixed-width, already zeroed buffer.
// Names longer than the buffer are truncated without a terminator, which
// the interpreter rejects as malformed; tests rely on this to craft
// invalid scripts.
func putFileName(buf []byte, name string) {
	copy(buf[:FileNameSize], name)
}
