package gridstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"uvgrid/internal/tilecodec"
)

const pebbleCacheBytes = 8 << 20

// PebbleBacking stores tiles as values of a Pebble database keyed by tile id.
type PebbleBacking struct {
	db          *pebble.DB
	cache       *pebble.Cache
	compression tilecodec.Compression
}

// OpenPebbleBacking opens or creates a database at dir.
func OpenPebbleBacking(dir string, c tilecodec.Compression) (*PebbleBacking, error) {
	if dir == "" {
		return nil, errors.New("gridstore: pebble backing requires a directory")
	}
	cache := pebble.NewCache(pebbleCacheBytes)
	db, err := pebble.Open(dir, &pebble.Options{Cache: cache})
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf("open pebble tile store: %w", err)
	}
	return &PebbleBacking{db: db, cache: cache, compression: c}, nil
}

func tileKey(id uint32) []byte {
	key := make([]byte, 6)
	key[0], key[1] = 't', '/'
	binary.BigEndian.PutUint32(key[2:], id)
	return key
}

func (b *PebbleBacking) Put(id uint32, data []complex128) error {
	enc, err := tilecodec.Encode(data, b.compression)
	if err != nil {
		return err
	}
	return b.db.Set(tileKey(id), enc, pebble.NoSync)
}

func (b *PebbleBacking) Get(id uint32, dst []complex128) error {
	val, closer, err := b.db.Get(tileKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return fmt.Errorf("%w: tile %d", ErrTileMissing, id)
		}
		return err
	}
	defer closer.Close()
	return decodeTile(id, val, dst)
}

func (b *PebbleBacking) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if b.cache != nil {
		b.cache.Unref()
		b.cache = nil
	}
	return err
}

// BackingKind names a Backing implementation in configuration.
type BackingKind string

const (
	BackingMemory BackingKind = "memory"
	BackingFile   BackingKind = "file"
	BackingPebble BackingKind = "pebble"
)

// OpenBacking creates a backing of the given kind. dir may be empty for
// memory and file backings.
func OpenBacking(kind BackingKind, dir string, c tilecodec.Compression) (Backing, error) {
	switch kind {
	case BackingMemory:
		return NewMemBacking(c), nil
	case "", BackingFile:
		return NewFileBacking(dir, c)
	case BackingPebble:
		return OpenPebbleBacking(dir, c)
	default:
		return nil, fmt.Errorf("gridstore: unknown backing %q", kind)
	}
}
