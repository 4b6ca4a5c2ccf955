// Package script parses the binary linker/loader script that drives table
// loading. The script is a sequence of fixed-size command records produced
// by the host; it is treated as untrusted input.
package script

import (
	"encoding/binary"
	"fmt"
)

// Wire format constants. These are a host protocol contract and must not
// be changed.
const (
	// EntrySize is the fixed size of one command record.
	EntrySize = 128
	// FileNameSize is the fixed size of a file name buffer, including the
	// terminating NUL.
	FileNameSize = 56
)

// CommandKind tags one command record.
type CommandKind uint32

// Command kinds understood by the interpreter. Unknown kinds are skipped.
const (
	CmdUnknown      CommandKind = 0
	CmdAllocate     CommandKind = 1
	CmdAddPointer   CommandKind = 2
	CmdAddChecksum  CommandKind = 3
	CmdWritePointer CommandKind = 4
)

func (k CommandKind) String() string {
	switch k {
	case CmdAllocate:
		return "allocate"
	case CmdAddPointer:
		return "add-pointer"
	case CmdAddChecksum:
		return "add-checksum"
	case CmdWritePointer:
		return "write-pointer"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// Allocation zone hints carried by allocate commands. The loader always
// reserves page-aligned boot-persistent memory, the zone is informational.
const (
	ZoneHigh uint8 = 1
	ZoneFSeg uint8 = 2
)

// FileName is a fixed-width, NUL-terminated name buffer as it appears on
// the wire. Validation of the terminator is deferred to command execution
// so that all malformed names are reported uniformly.
type FileName [FileNameSize]byte

// Terminated reports whether the name buffer contains a NUL terminator.
func (f FileName) Terminated() bool {
	return f[FileNameSize-1] == 0
}

// String returns the name up to the first NUL. Only meaningful for
// terminated buffers.
func (f FileName) String() string {
	for i, b := range f {
		if b == 0 {
			return string(f[:i])
		}
	}
	return string(f[:])
}

// Allocate materializes a named blob.
type Allocate struct {
	File      FileName
	Alignment uint32 // bytes, power of two
	Zone      uint8
}

// AddPointer patches the absolute address of one blob into a field
// inside another blob.
type AddPointer struct {
	PointerFile   FileName
	PointeeFile   FileName
	PointerOffset uint32
	PointerSize   uint8 // 1, 2, 4 or 8
}

// AddChecksum recomputes an 8-bit additive checksum over a byte range of
// a blob and stores it inside the same blob.
type AddChecksum struct {
	File         FileName
	ResultOffset uint32
	Start        uint32
	Length       uint32
}

// WritePointer writes the address of an allocated blob back into a
// writable host item, for host-visible feedback fields.
type WritePointer struct {
	PointerFile   FileName
	PointeeFile   FileName
	PointerOffset uint32
	PointeeOffset uint32
	PointerSize   uint8
}

// Command is one decoded script entry. Exactly one of the pointers is set,
// matching Kind; all are nil for skipped unknown kinds.
type Command struct {
	Kind         CommandKind
	Allocate     *Allocate
	AddPointer   *AddPointer
	AddChecksum  *AddChecksum
	WritePointer *WritePointer
}

// Parse decodes a raw script into its command sequence. The script length
// must be a whole multiple of the entry size; the content of individual
// commands is not validated here.
func Parse(data []byte) ([]Command, error) {
	if len(data)%EntrySize != 0 {
		return nil, fmt.Errorf("script size %d is not a multiple of the %d byte entry size",
			len(data), EntrySize)
	}

	commands := make([]Command, 0, len(data)/EntrySize)
	for offset := 0; offset < len(data); offset += EntrySize {
		entry := data[offset : offset+EntrySize]
		commands = append(commands, parseEntry(entry))
	}
	return commands, nil
}

func parseEntry(entry []byte) Command {
	kind := CommandKind(binary.LittleEndian.Uint32(entry))
	body := entry[4:]

	cmd := Command{Kind: kind}

	switch kind {
	case CmdAllocate:
		allocate := &Allocate{}
		copy(allocate.File[:], body[:FileNameSize])
		allocate.Alignment = binary.LittleEndian.Uint32(body[FileNameSize:])
		allocate.Zone = body[FileNameSize+4]
		cmd.Allocate = allocate

	case CmdAddPointer:
		pointer := &AddPointer{}
		copy(pointer.PointerFile[:], body[:FileNameSize])
		copy(pointer.PointeeFile[:], body[FileNameSize:2*FileNameSize])
		pointer.PointerOffset = binary.LittleEndian.Uint32(body[2*FileNameSize:])
		pointer.PointerSize = body[2*FileNameSize+4]
		cmd.AddPointer = pointer

	case CmdAddChecksum:
		checksum := &AddChecksum{}
		copy(checksum.File[:], body[:FileNameSize])
		checksum.ResultOffset = binary.LittleEndian.Uint32(body[FileNameSize:])
		checksum.Start = binary.LittleEndian.Uint32(body[FileNameSize+4:])
		checksum.Length = binary.LittleEndian.Uint32(body[FileNameSize+8:])
		cmd.AddChecksum = checksum

	case CmdWritePointer:
		writePointer := &WritePointer{}
		copy(writePointer.PointerFile[:], body[:FileNameSize])
		copy(writePointer.PointeeFile[:], body[FileNameSize:2*FileNameSize])
		writePointer.PointerOffset = binary.LittleEndian.Uint32(body[2*FileNameSize:])
		writePointer.PointeeOffset = binary.LittleEndian.Uint32(body[2*FileNameSize+4:])
		writePointer.PointerSize = body[2*FileNameSize+8]
		cmd.WritePointer = writePointer
	}

	return cmd
}
