package gridstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"uvgrid/internal/tilecodec"
)

// Backing persists evicted tiles. Get must fill dst exactly and report
// ErrTileMissing or ErrCorruptTile (wrapped) where they apply.
type Backing interface {
	Put(id uint32, data []complex128) error
	Get(id uint32, dst []complex128) error
	Close() error
}

func decodeTile(id uint32, enc []byte, dst []complex128) error {
	if err := tilecodec.Decode(enc, dst); err != nil {
		if errors.Is(err, tilecodec.ErrChecksum) || errors.Is(err, tilecodec.ErrFormat) {
			return fmt.Errorf("%w: tile %d: %v", ErrCorruptTile, id, err)
		}
		return err
	}
	return nil
}

// MemBacking keeps encoded tiles in a map.
type MemBacking struct {
	mu          sync.Mutex
	compression tilecodec.Compression
	tiles       map[uint32][]byte
	puts, gets  int
}

// NewMemBacking creates an empty in-memory backing.
func NewMemBacking(c tilecodec.Compression) *MemBacking {
	return &MemBacking{compression: c, tiles: make(map[uint32][]byte)}
}

func (b *MemBacking) Put(id uint32, data []complex128) error {
	enc, err := tilecodec.Encode(data, b.compression)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tiles[id] = enc
	b.puts++
	return nil
}

func (b *MemBacking) Get(id uint32, dst []complex128) error {
	b.mu.Lock()
	enc, ok := b.tiles[id]
	b.gets++
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: tile %d", ErrTileMissing, id)
	}
	return decodeTile(id, enc, dst)
}

// Corrupt flips a byte of the stored payload of id. It reports whether the tile exists.
func (b *MemBacking) Corrupt(id uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	enc, ok := b.tiles[id]
	if !ok {
		return false
	}
	enc[len(enc)-1] ^= 0x5a
	return true
}

// Counts returns the number of Put and Get calls.
func (b *MemBacking) Counts() (puts, gets int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts, b.gets
}

func (b *MemBacking) Close() error { return nil }

// FileBacking stores one file per tile in a directory.
type FileBacking struct {
	dir         string
	compression tilecodec.Compression
	owned       bool
}

// NewFileBacking uses dir, creating it if needed. An empty dir creates a
// temporary directory that is removed on Close.
func NewFileBacking(dir string, c tilecodec.Compression) (*FileBacking, error) {
	owned := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "uvgrid-tiles-")
		if err != nil {
			return nil, fmt.Errorf("create tile directory: %w", err)
		}
		dir, owned = tmp, true
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create tile directory: %w", err)
	}
	return &FileBacking{dir: dir, compression: c, owned: owned}, nil
}

// Dir returns the tile directory.
func (b *FileBacking) Dir() string { return b.dir }

func (b *FileBacking) path(id uint32) string {
	return filepath.Join(b.dir, fmt.Sprintf("tile-%08d.uvt", id))
}

func (b *FileBacking) Put(id uint32, data []complex128) error {
	enc, err := tilecodec.Encode(data, b.compression)
	if err != nil {
		return err
	}
	final := b.path(id)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, enc, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (b *FileBacking) Get(id uint32, dst []complex128) error {
	enc, err := os.ReadFile(b.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: tile %d", ErrTileMissing, id)
		}
		return err
	}
	return decodeTile(id, enc, dst)
}

// Close removes the directory if NewFileBacking created it.
func (b *FileBacking) Close() error {
	if b.owned {
		return os.RemoveAll(b.dir)
	}
	return nil
}
