// Package tilecodec encodes grid tiles for backing storage: a fixed header,
// an xxh3 checksum of the raw values and an optionally compressed payload.
package tilecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"
)

// Compression selects the payload codec.
type Compression uint8

const (
	None Compression = 0
	LZ4  Compression = 1
	Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "none", "lz4" or "zstd". The empty string is none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("tilecodec: unknown compression %q", s)
	}
}

var (
	// ErrFormat is returned for data that is not an encoded tile.
	ErrFormat = errors.New("tilecodec: malformed tile")

	// ErrChecksum is returned when a decoded payload does not match its checksum.
	ErrChecksum = errors.New("tilecodec: checksum mismatch")
)

const (
	magic      = "UVT1"
	headerSize = 28
	valueSize  = 16
)

// Header layout (little endian):
//
//	[0:4]   magic
//	[4]     version
//	[5]     payload compression
//	[6:8]   reserved
//	[8:12]  value count
//	[12:16] raw length
//	[16:20] payload length
//	[20:28] xxh3 of raw bytes
const version = 1

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode serialises values with the requested compression. When compression
// does not shrink the payload it is stored raw.
func Encode(values []complex128, c Compression) ([]byte, error) {
	raw := make([]byte, len(values)*valueSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*valueSize:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(raw[i*valueSize+8:], math.Float64bits(imag(v)))
	}
	sum := xxh3.Hash(raw)

	payload, used, err := compress(raw, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(payload))
	copy(out[0:4], magic)
	out[4] = version
	out[5] = byte(used)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(values)))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[16:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(out[20:], sum)
	copy(out[headerSize:], payload)
	return out, nil
}

func compress(raw []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case None:
		return raw, None, nil
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, None, fmt.Errorf("tilecodec: lz4: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return raw, None, nil
		}
		return buf[:n], LZ4, nil
	case Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, None, fmt.Errorf("tilecodec: zstd: %w", err)
		}
		defer zstdEncoders.Put(enc)
		out := enc.EncodeAll(raw, nil)
		if len(out) >= len(raw) {
			return raw, None, nil
		}
		return out, Zstd, nil
	default:
		return nil, None, fmt.Errorf("tilecodec: unknown compression %d", c)
	}
}

// Count returns the number of values an encoded tile holds.
func Count(data []byte) (int, error) {
	if len(data) < headerSize || string(data[0:4]) != magic {
		return 0, ErrFormat
	}
	return int(binary.LittleEndian.Uint32(data[8:])), nil
}

// Decode fills dst from an encoded tile. dst must have exactly Count values.
func Decode(data []byte, dst []complex128) error {
	if len(data) < headerSize || string(data[0:4]) != magic {
		return ErrFormat
	}
	if data[4] != version {
		return fmt.Errorf("%w: version %d", ErrFormat, data[4])
	}
	count := int(binary.LittleEndian.Uint32(data[8:]))
	rawLen := int(binary.LittleEndian.Uint32(data[12:]))
	payloadLen := int(binary.LittleEndian.Uint32(data[16:]))
	sum := binary.LittleEndian.Uint64(data[20:])

	if count != len(dst) || rawLen != count*valueSize {
		return fmt.Errorf("%w: holds %d values, want %d", ErrFormat, count, len(dst))
	}
	if len(data) < headerSize+payloadLen {
		return fmt.Errorf("%w: truncated payload", ErrFormat)
	}
	payload := data[headerSize : headerSize+payloadLen]

	var raw []byte
	switch Compression(data[5]) {
	case None:
		raw = payload
	case LZ4:
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return fmt.Errorf("%w: lz4: %v", ErrChecksum, err)
		}
		raw = raw[:n]
	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return fmt.Errorf("tilecodec: zstd: %w", err)
		}
		defer zstdDecoders.Put(dec)
		raw, err = dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrChecksum, err)
		}
	default:
		return fmt.Errorf("%w: compression %d", ErrFormat, data[5])
	}

	if len(raw) != rawLen || xxh3.Hash(raw) != sum {
		return ErrChecksum
	}
	for i := range dst {
		re := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*valueSize:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(raw[i*valueSize+8:]))
		dst[i] = complex(re, im)
	}
	return nil
}
