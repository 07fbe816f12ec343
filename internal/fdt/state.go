package fdt

import (
	"errors"
	"fmt"
)

// ErrCellOverflow is returned when a value needs more bits than the active
// cell width can represent.
var ErrCellOverflow = errors.New("value does not fit in cell width")

// Phandles allocates the stable integer handles nodes use to reference each
// other without structural pointers. One table spans a whole build: states
// for narrower scopes share it, so a device node can resolve a handle that
// was allocated while a different subtree was being built.
type Phandles struct {
	next uint32
	keys map[string]uint32
}

// NewPhandles creates an empty table. Handles start at 1.
func NewPhandles() *Phandles {
	return &Phandles{next: 1, keys: make(map[string]uint32)}
}

// Get returns the handle for key, allocating the next free one on first use.
// A key's handle never changes for the lifetime of the table and two
// distinct keys never share a handle.
func (p *Phandles) Get(key string) uint32 {
	if h, ok := p.keys[key]; ok {
		return h
	}
	h := p.next
	p.next++
	p.keys[key] = h
	return h
}

// State carries the cell widths of one addressing scope plus the build-wide
// phandle table. Address and size scopes are two cells wide at root and soc
// level, one cell in the cpus subtree, and interrupt-controller nodes declare
// their own narrower interrupt scope.
type State struct {
	AddressCells   uint32
	SizeCells      uint32
	CPUCells       uint32
	InterruptCells uint32

	Phandles *Phandles
}

// EncodeAddr encodes an address as AddressCells big-endian 32-bit words,
// high word first.
func (s *State) EncodeAddr(v uint64) ([]uint32, error) {
	return encodeCells(v, s.AddressCells, "address")
}

// EncodeSize encodes a region size as SizeCells words.
func (s *State) EncodeSize(v uint64) ([]uint32, error) {
	return encodeCells(v, s.SizeCells, "size")
}

// EncodeCPU encodes a core index as CPUCells words, for cpu reg properties.
func (s *State) EncodeCPU(index int) ([]uint32, error) {
	return encodeCells(uint64(index), s.CPUCells, "cpu index")
}

// Phandle resolves key through the shared table.
func (s *State) Phandle(key string) uint32 {
	return s.Phandles.Get(key)
}

// AddressCellsProperty returns the "#address-cells" property for this scope.
func (s *State) AddressCellsProperty() Property {
	return WordsProperty("#address-cells", s.AddressCells)
}

// SizeCellsProperty returns the "#size-cells" property for this scope.
func (s *State) SizeCellsProperty() Property {
	return WordsProperty("#size-cells", s.SizeCells)
}

// InterruptCellsProperty returns the "#interrupt-cells" property for this scope.
func (s *State) InterruptCellsProperty() Property {
	return WordsProperty("#interrupt-cells", s.InterruptCells)
}

func encodeCells(v uint64, cells uint32, what string) ([]uint32, error) {
	if cells < 2 && v>>(32*cells) != 0 {
		return nil, fmt.Errorf("%s 0x%x needs more than %d cells: %w", what, v, cells, ErrCellOverflow)
	}
	out := make([]uint32, 0, cells)
	for i := int(cells) - 1; i >= 0; i-- {
		out = append(out, uint32(v>>(32*uint32(i))))
	}
	return out, nil
}
