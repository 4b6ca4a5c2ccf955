// Package mem provides the page-granular boot memory pool that table
// blobs are reserved from. Reservations model the platform's
// boot-persistent, OS-invisible memory class: page aligned, placed below
// a caller-given address ceiling, and released only on rollback.
package mem

import (
	"errors"
	"fmt"
)

// PageSize is the allocation granularity in bytes.
const PageSize = 4096

// Max32BitAddress is the highest address reachable through a 32-bit
// pointer field.
const Max32BitAddress uint64 = 0xffff_ffff

// ErrExhausted is returned when a reservation cannot be satisfied below
// the requested ceiling.
var ErrExhausted = errors.New("out of boot memory")

// Region is one page-granular reservation. Base is the simulated physical
// address, Data the backing bytes covering the whole reservation.
type Region struct {
	Base uint64
	Data []byte
}

// Pages returns the number of pages covered by the region.
func (r Region) Pages() int {
	return len(r.Data) / PageSize
}

// Allocator reserves and releases page-granular memory regions.
type Allocator interface {
	// AllocatePages reserves numPages pages ending at or below maxAddress.
	AllocatePages(numPages int, maxAddress uint64) (Region, error)
	// FreePages releases a prior reservation.
	FreePages(region Region) error
}

// ArenaConfig sizes the two address windows of an arena.
type ArenaConfig struct {
	LowBase   uint64 // below the 32-bit boundary
	LowPages  int
	HighBase  uint64 // above the 32-bit boundary
	HighPages int
}

// DefaultArenaConfig returns the window layout used by the loader binary:
// 64 MiB below 4 GiB and 64 MiB directly above it.
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		LowBase:   0x7c00_0000,
		LowPages:  16384,
		HighBase:  0x1_0000_0000,
		HighPages: 16384,
	}
}

// Arena is a boot memory pool with two bump windows, one on each side of
// the 32-bit boundary. Reservations are never recycled within a pass;
// FreePages only retires the bookkeeping, which is all rollback needs.
type Arena struct {
	config ArenaConfig

	lowNext  uint64
	highNext uint64

	reservations  map[uint64]int // base address keyed, page count valued
	reservedPages int
}

// NewArena returns an arena with the given window layout.
func NewArena(config ArenaConfig) *Arena {
	return &Arena{
		config:       config,
		lowNext:      config.LowBase,
		highNext:     config.HighBase,
		reservations: map[uint64]int{},
	}
}

// AllocatePages implements Allocator. Reservations without a 32-bit
// restriction are placed in the high window first, keeping the scarcer
// low window for restricted blobs.
func (a *Arena) AllocatePages(numPages int, maxAddress uint64) (Region, error) {
	if numPages <= 0 {
		return Region{}, fmt.Errorf("invalid page count %d", numPages)
	}

	size := uint64(numPages) * PageSize

	if maxAddress > Max32BitAddress {
		if base, ok := a.reserve(&a.highNext, a.highLimit(), size, maxAddress); ok {
			return a.newRegion(base, numPages), nil
		}
	}
	if base, ok := a.reserve(&a.lowNext, a.lowLimit(), size, maxAddress); ok {
		return a.newRegion(base, numPages), nil
	}

	return Region{}, fmt.Errorf("%w: %d pages below address 0x%x",
		ErrExhausted, numPages, maxAddress)
}

// FreePages implements Allocator.
func (a *Arena) FreePages(region Region) error {
	pages, ok := a.reservations[region.Base]
	if !ok {
		return fmt.Errorf("no reservation at address 0x%x", region.Base)
	}
	if pages != region.Pages() {
		return fmt.Errorf("reservation at address 0x%x spans %d pages, not %d",
			region.Base, pages, region.Pages())
	}

	delete(a.reservations, region.Base)
	a.reservedPages -= pages
	return nil
}

// ReservedPages returns the number of pages currently reserved.
func (a *Arena) ReservedPages() int {
	return a.reservedPages
}

func (a *Arena) lowLimit() uint64 {
	return a.config.LowBase + uint64(a.config.LowPages)*PageSize
}

func (a *Arena) highLimit() uint64 {
	return a.config.HighBase + uint64(a.config.HighPages)*PageSize
}

// reserve bumps a window cursor if the reservation fits below both the
// window limit and the address ceiling.
func (a *Arena) reserve(next *uint64, limit, size, maxAddress uint64) (uint64, bool) {
	base := *next
	if base+size > limit || base+size-1 > maxAddress {
		return 0, false
	}
	*next = base + size
	return base, true
}

func (a *Arena) newRegion(base uint64, numPages int) Region {
	a.reservations[base] = numPages
	a.reservedPages += numPages
	return Region{
		Base: base,
		Data: make([]byte, numPages*PageSize),
	}
}
