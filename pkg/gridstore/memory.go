package gridstore

import (
	"fmt"

	"uvgrid/pkg/lattice"
)

// Memory is a grid held in a single allocation. It is not safe for concurrent use.
type Memory struct {
	shape lattice.Shape
	data  []complex128
}

// NewMemory allocates a zeroed grid.
func NewMemory(shape lattice.Shape) *Memory {
	return &Memory{shape: shape, data: make([]complex128, shape.Len())}
}

func (m *Memory) Shape() lattice.Shape { return m.shape }

func (m *Memory) Build(support int) error {
	if support < 0 {
		return fmt.Errorf("gridstore: negative support %d", support)
	}
	return nil
}

func (m *Memory) Window(cx, cy, half int) (Window, error) {
	if cx-half < 0 || cy-half < 0 || cx+half >= m.shape.NX || cy+half >= m.shape.NY {
		return Window{}, fmt.Errorf("%w: (%d,%d)±%d on %v", ErrOutsideCoverage, cx, cy, half, m.shape)
	}
	return Window{
		data:        m.data,
		centre:      m.shape.Index(cx, cy, 0),
		stride:      m.shape.NX,
		planeStride: m.shape.PlaneSize(),
		half:        half,
	}, nil
}

func (m *Memory) inside(x, y, plane int) error {
	if x < 0 || y < 0 || x >= m.shape.NX || y >= m.shape.NY || plane < 0 || plane >= m.shape.Planes() {
		return fmt.Errorf("%w: cell (%d,%d,%d) on %v", ErrOutsideCoverage, x, y, plane, m.shape)
	}
	return nil
}

func (m *Memory) Accumulate(x, y, plane int, v complex128) error {
	if err := m.inside(x, y, plane); err != nil {
		return err
	}
	m.data[m.shape.Index(x, y, plane)] += v
	return nil
}

func (m *Memory) Read(x, y, plane int) (complex128, error) {
	if err := m.inside(x, y, plane); err != nil {
		return 0, err
	}
	return m.data[m.shape.Index(x, y, plane)], nil
}

// FFTable returns the grid itself, not a copy. Transforms run in place on it.
func (m *Memory) FFTable() ([]complex128, error) { return m.data, nil }

func (m *Memory) Load(grid []complex128) error {
	if len(grid) != len(m.data) {
		return fmt.Errorf("%w: %d values for %v", ErrShape, len(grid), m.shape)
	}
	copy(m.data, grid)
	return nil
}

// Seed is Load: a single buffer has no margins to keep apart.
func (m *Memory) Seed(grid []complex128) error { return m.Load(grid) }

func (m *Memory) FlushAll() error { return nil }

func (m *Memory) Reset() error {
	clear(m.data)
	return nil
}

func (m *Memory) Close() error {
	m.data = nil
	return nil
}

func (m *Memory) Stats() Stats {
	return Stats{
		Strategy:  StrategyMemory,
		Resident:  1,
		Capacity:  1,
		TileBytes: int64(len(m.data)) * cellBytes,
	}
}
