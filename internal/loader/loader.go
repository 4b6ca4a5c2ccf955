// Package loader implements the linker/loader script interpreter that
// materializes configuration blobs, patches cross-references and
// checksums between them, and tracks everything for rollback.
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fwtables/tableloader/internal/fwcfg"
	"github.com/fwtables/tableloader/internal/mem"
	"github.com/fwtables/tableloader/internal/script"
	"github.com/retroenv/retrogolib/log"
	"github.com/retroenv/retrogolib/set"
)

// ScriptItemName is the configuration item holding the loader script.
const ScriptItemName = "etc/table-loader"

// Loader interprets one script in a single run-to-completion pass. It is
// one-shot: construct, Run once, discard.
type Loader struct {
	logger *log.Logger
	source fwcfg.Source
	alloc  mem.Allocator

	directory  *Directory
	restricted set.Set[string]

	// executed write-pointer patches, undone in reverse order on rollback
	pointerWrites []pointerWrite
}

type pointerWrite struct {
	item   fwcfg.Writable
	offset uint64
	size   uint8
}

// New creates a loader reading blobs from source and reserving their
// memory from alloc.
func New(logger *log.Logger, source fwcfg.Source, alloc mem.Allocator) *Loader {
	return &Loader{
		logger:    logger,
		source:    source,
		alloc:     alloc,
		directory: NewDirectory(),
	}
}

// ReadScript fetches and parses the loader script from the configuration
// source.
func ReadScript(source fwcfg.Source) ([]script.Command, error) {
	item, err := source.Find(ScriptItemName)
	if err != nil {
		if errors.Is(err, fwcfg.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ScriptItemName)
		}
		return nil, fmt.Errorf("finding loader script: %w", err)
	}

	data := make([]byte, item.Size())
	if err := item.ReadInto(data); err != nil {
		return nil, fmt.Errorf("reading loader script: %w", err)
	}

	commands, err := script.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFormat, err)
	}
	return commands, nil
}

// Run executes all commands in document order. On success it returns the
// blob directory; ownership of the blob memory passes to the caller and
// is never released by the loader. On any failure the pass is rolled
// back completely: write-pointer patches are undone, every page released
// and the directory discarded before the error is returned.
func (l *Loader) Run(commands []script.Command) (*Directory, error) {
	l.restricted = CollectRestrictions(commands)

	for i, cmd := range commands {
		var err error

		switch cmd.Kind {
		case script.CmdAllocate:
			err = l.processAllocate(cmd.Allocate)
		case script.CmdAddPointer:
			err = l.processAddPointer(cmd.AddPointer)
		case script.CmdAddChecksum:
			err = l.processAddChecksum(cmd.AddChecksum)
		case script.CmdWritePointer:
			err = l.processWritePointer(cmd.WritePointer)
		default:
			l.logger.Debug("Skipping unknown loader command",
				log.String("kind", cmd.Kind.String()),
				log.Int("index", i))
		}

		if err != nil {
			l.rollback()
			return nil, fmt.Errorf("command %d (%s): %w", i, cmd.Kind, err)
		}
	}

	return l.directory, nil
}

// processAllocate materializes one named blob: it resolves the name in
// the configuration source, reserves whole pages below the applicable
// address ceiling, copies the content in and zero-fills the page tail.
func (l *Loader) processAllocate(allocate *script.Allocate) error {
	if !allocate.File.Terminated() {
		return fmt.Errorf("%w: file name not terminated", ErrFormat)
	}
	name := allocate.File.String()

	if allocate.Alignment > mem.PageSize {
		return fmt.Errorf("%w: alignment 0x%x exceeds the page size",
			ErrUnsupported, allocate.Alignment)
	}

	if l.directory.Find(name) != nil {
		return fmt.Errorf("%w: file '%s' already allocated", ErrFormat, name)
	}

	item, err := l.source.Find(name)
	if err != nil {
		if errors.Is(err, fwcfg.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("finding file '%s': %w", name, err)
	}

	size := item.Size()
	if size == 0 {
		return fmt.Errorf("%w: file '%s' is empty", ErrFormat, name)
	}
	numPages := int((size + mem.PageSize - 1) / mem.PageSize)

	ceiling := uint64(math.MaxUint64)
	if _, ok := l.restricted[name]; ok {
		ceiling = mem.Max32BitAddress
	}

	region, err := l.alloc.AllocatePages(numPages, ceiling)
	if err != nil {
		if errors.Is(err, mem.ErrExhausted) {
			return fmt.Errorf("%w: allocating %d pages for '%s'",
				ErrOutOfResources, numPages, name)
		}
		return fmt.Errorf("allocating pages for '%s': %w", name, err)
	}

	if err := item.ReadInto(region.Data[:size]); err != nil {
		_ = l.alloc.FreePages(region)
		return fmt.Errorf("reading file '%s': %w", name, err)
	}
	// no uninitialized memory may ever be reachable through patched
	// pointers or checksummed ranges
	clear(region.Data[size:])

	blob := &Blob{
		Name:      name,
		Size:      size,
		Region:    region,
		TableData: true,
	}
	if err := l.directory.Insert(blob); err != nil {
		_ = l.alloc.FreePages(region)
		return err
	}

	l.logger.Debug("Allocated blob",
		log.String("file", name),
		log.Hex("address", blob.Base()),
		log.Hex("size", size),
		log.Int("zone", int(allocate.Zone)))
	return nil
}

// processAddPointer patches the absolute address of the pointee blob into
// a field of the pointer blob. The patch is additive: a value pre-seeded
// in the field is kept as a displacement inside the pointee.
func (l *Loader) processAddPointer(pointer *script.AddPointer) error {
	if !pointer.PointerFile.Terminated() || !pointer.PointeeFile.Terminated() {
		return fmt.Errorf("%w: file name not terminated", ErrFormat)
	}

	pointerBlob := l.directory.Find(pointer.PointerFile.String())
	pointeeBlob := l.directory.Find(pointer.PointeeFile.String())
	if pointerBlob == nil || pointeeBlob == nil {
		return fmt.Errorf("%w: add-pointer references unallocated file", ErrFormat)
	}

	if !validPointerSize(pointer.PointerSize) {
		return fmt.Errorf("%w: invalid pointer size %d", ErrFormat, pointer.PointerSize)
	}
	offset := uint64(pointer.PointerOffset)
	width := uint64(pointer.PointerSize)
	if offset+width > pointerBlob.Size {
		return fmt.Errorf("%w: pointer field [0x%x,0x%x) exceeds blob '%s' size 0x%x",
			ErrFormat, offset, offset+width, pointerBlob.Name, pointerBlob.Size)
	}

	field := pointerBlob.Data()[offset : offset+width]
	seed := readUint(field, pointer.PointerSize)
	if seed >= pointeeBlob.Size {
		return fmt.Errorf("%w: seeded displacement 0x%x exceeds blob '%s' size 0x%x",
			ErrFormat, seed, pointeeBlob.Name, pointeeBlob.Size)
	}

	value := pointeeBlob.Base() + seed
	if !fits(value, pointer.PointerSize) {
		return fmt.Errorf("%w: address 0x%x does not fit a %d byte pointer field",
			ErrUnsupported, value, pointer.PointerSize)
	}
	putUint(field, pointer.PointerSize, value)

	l.logger.Debug("Patched pointer",
		log.String("pointer_file", pointerBlob.Name),
		log.String("pointee_file", pointeeBlob.Name),
		log.Hex("offset", pointer.PointerOffset),
		log.Hex("value", value))
	return nil
}

// processAddChecksum recomputes the 8-bit additive checksum over a byte
// range of a blob so that the range, including the checksum byte, sums
// to zero modulo 256.
func (l *Loader) processAddChecksum(checksum *script.AddChecksum) error {
	if !checksum.File.Terminated() {
		return fmt.Errorf("%w: file name not terminated", ErrFormat)
	}

	blob := l.directory.Find(checksum.File.String())
	if blob == nil {
		return fmt.Errorf("%w: add-checksum references unallocated file", ErrFormat)
	}

	result := uint64(checksum.ResultOffset)
	start := uint64(checksum.Start)
	length := uint64(checksum.Length)
	if result >= blob.Size || start+length > blob.Size {
		return fmt.Errorf("%w: checksum range [0x%x,0x%x) result 0x%x exceeds blob '%s' size 0x%x",
			ErrFormat, start, start+length, result, blob.Name, blob.Size)
	}

	data := blob.Data()
	var sum uint8
	for _, b := range data[start : start+length] {
		sum += b
	}
	data[result] = -sum

	l.logger.Debug("Patched checksum",
		log.String("file", blob.Name),
		log.Hex("result_offset", checksum.ResultOffset),
		log.Hex("checksum", data[result]))
	return nil
}

// processWritePointer writes the address of an allocated blob into a
// writable configuration item, giving the host a live pointer into the
// blob. The pointee must therefore survive as a whole and is excluded
// from table record splitting.
func (l *Loader) processWritePointer(writePointer *script.WritePointer) error {
	if !writePointer.PointerFile.Terminated() || !writePointer.PointeeFile.Terminated() {
		return fmt.Errorf("%w: file name not terminated", ErrFormat)
	}

	pointeeBlob := l.directory.Find(writePointer.PointeeFile.String())
	if pointeeBlob == nil {
		return fmt.Errorf("%w: write-pointer references unallocated file", ErrFormat)
	}

	name := writePointer.PointerFile.String()
	item, err := l.source.Find(name)
	if err != nil {
		if errors.Is(err, fwcfg.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("finding file '%s': %w", name, err)
	}
	writable, ok := item.(fwcfg.Writable)
	if !ok {
		return fmt.Errorf("%w: file '%s' is not writable", ErrUnsupported, name)
	}

	if !validPointerSize(writePointer.PointerSize) {
		return fmt.Errorf("%w: invalid pointer size %d", ErrFormat, writePointer.PointerSize)
	}
	offset := uint64(writePointer.PointerOffset)
	width := uint64(writePointer.PointerSize)
	if offset+width > item.Size() {
		return fmt.Errorf("%w: pointer field [0x%x,0x%x) exceeds item '%s' size 0x%x",
			ErrFormat, offset, offset+width, name, item.Size())
	}
	if uint64(writePointer.PointeeOffset) > pointeeBlob.Size {
		return fmt.Errorf("%w: pointee offset 0x%x exceeds blob '%s' size 0x%x",
			ErrFormat, writePointer.PointeeOffset, pointeeBlob.Name, pointeeBlob.Size)
	}

	value := pointeeBlob.Base() + uint64(writePointer.PointeeOffset)
	if !fits(value, writePointer.PointerSize) {
		return fmt.Errorf("%w: address 0x%x does not fit a %d byte pointer field",
			ErrUnsupported, value, writePointer.PointerSize)
	}

	field := make([]byte, writePointer.PointerSize)
	putUint(field, writePointer.PointerSize, value)
	if err := writable.WriteAt(offset, field); err != nil {
		return fmt.Errorf("writing pointer to '%s': %w", name, err)
	}

	l.pointerWrites = append(l.pointerWrites, pointerWrite{
		item:   writable,
		offset: offset,
		size:   writePointer.PointerSize,
	})
	// the host now points into this blob, it must stay intact
	pointeeBlob.TableData = false

	l.logger.Debug("Wrote pointer to host item",
		log.String("pointer_file", name),
		log.String("pointee_file", pointeeBlob.Name),
		log.Hex("value", value))
	return nil
}

// rollback undoes the pass: host-visible pointer writes are cleared in
// reverse order, then every reserved page is released and the directory
// discarded. Partial success is never observable.
func (l *Loader) rollback() {
	for i := len(l.pointerWrites) - 1; i >= 0; i-- {
		write := l.pointerWrites[i]
		if err := write.item.WriteAt(write.offset, make([]byte, write.size)); err != nil {
			l.logger.Warn("Undoing pointer write failed", log.Err(err))
		}
	}
	l.pointerWrites = nil

	blobs := l.directory.Blobs()
	for i := len(blobs) - 1; i >= 0; i-- {
		if err := l.alloc.FreePages(blobs[i].Region); err != nil {
			l.logger.Warn("Releasing blob pages failed",
				log.String("file", blobs[i].Name), log.Err(err))
		}
	}
	l.directory = NewDirectory()
}

func validPointerSize(size uint8) bool {
	return size == 1 || size == 2 || size == 4 || size == 8
}

// fits reports whether value can be stored in a field of the given byte
// width without truncation.
func fits(value uint64, size uint8) bool {
	if size >= 8 {
		return true
	}
	return value>>(8*uint(size)) == 0
}

func readUint(data []byte, size uint8) uint64 {
	switch size {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	default:
		return binary.LittleEndian.Uint64(data)
	}
}

func putUint(data []byte, size uint8, value uint64) {
	switch size {
	case 1:
		data[0] = uint8(value)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(value))
	default:
		binary.LittleEndian.PutUint64(data, value)
	}
}
