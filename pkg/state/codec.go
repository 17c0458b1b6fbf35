package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"uvgrid/internal/models"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrFormat is returned for input that is not a saved record.
	ErrFormat = errors.New("state: malformed record")

	// ErrTruncated is returned when the payload holds fewer values than declared.
	ErrTruncated = errors.New("state: truncated payload")
)

// Encoding selects the header document format.
type Encoding uint8

const (
	YAML Encoding = 0
	JSON Encoding = 1
)

// ParseEncoding accepts "yaml" or "json".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "yaml", "yml":
		return YAML, nil
	case "json":
		return JSON, nil
	default:
		return YAML, fmt.Errorf("state: unknown encoding %q", s)
	}
}

const (
	fileMagic    = "UVSTATE1"
	payloadMagic = "UVP1"
)

// Encode writes r. The image payload is written only when r.Image is set and
// the grid payload only when r.Grid is set.
func Encode(w io.Writer, r *Record, enc Encoding) error {
	h := r.header()
	var image, grid []byte
	var err error
	if h.Payload, image, err = payloadBlock("image", r.Image, r.ImageShape); err != nil {
		return err
	}
	if h.GridPayload, grid, err = payloadBlock("grid", r.Grid, r.GridShape); err != nil {
		return err
	}

	var doc []byte
	switch enc {
	case YAML:
		doc, err = yaml.Marshal(&h)
	case JSON:
		doc, err = json.MarshalIndent(&h, "", "  ")
	default:
		return fmt.Errorf("state: unknown encoding %d", enc)
	}
	if err != nil {
		return fmt.Errorf("error marshaling record header: %w", err)
	}

	prefix := make([]byte, len(fileMagic)+5)
	copy(prefix, fileMagic)
	prefix[len(fileMagic)] = byte(enc)
	binary.LittleEndian.PutUint32(prefix[len(fileMagic)+1:], uint32(len(doc)))
	for _, b := range [][]byte{prefix, doc, image, grid} {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("error writing record: %w", err)
		}
	}
	return nil
}

func payloadBlock(name string, values []complex128, s lattice.Shape) (*models.Payload, []byte, error) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	rowLen := s.NX
	if rowLen <= 0 || len(values)%rowLen != 0 {
		return nil, nil, fmt.Errorf("state: %s of %d values does not fit shape %v", name, len(values), s)
	}
	rows := len(values) / rowLen
	block, err := encodePayload(values, rows, rowLen)
	if err != nil {
		return nil, nil, err
	}
	return &models.Payload{Rows: rows, RowLength: rowLen, Encoding: "complex128le+zstd", Bytes: len(block)}, block, nil
}

func encodePayload(values []complex128, rows, rowLen int) ([]byte, error) {
	raw := make([]byte, 16*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[16*i:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(raw[16*i+8:], math.Float64bits(imag(v)))
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("state: zstd: %w", err)
	}
	defer enc.Close()

	out := make([]byte, 16, 16+len(raw)/4)
	copy(out, payloadMagic)
	binary.LittleEndian.PutUint64(out[4:], uint64(rows))
	binary.LittleEndian.PutUint32(out[12:], uint32(rowLen))
	return enc.EncodeAll(raw, out), nil
}

// Decode reads a record written by Encode. When the header and the payload
// disagree on the number of rows a warning is logged and the header wins.
func Decode(rd io.Reader, log *logging.Logger) (*Record, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("error reading record: %w", err)
	}
	n := len(fileMagic) + 5
	if len(data) < n || string(data[:len(fileMagic)]) != fileMagic {
		return nil, ErrFormat
	}
	enc := Encoding(data[len(fileMagic)])
	docLen := int(binary.LittleEndian.Uint32(data[len(fileMagic)+1:]))
	if len(data) < n+docLen {
		return nil, fmt.Errorf("%w: header truncated", ErrFormat)
	}
	doc, rest := data[n:n+docLen], data[n+docLen:]

	var h models.RecordHeader
	switch enc {
	case YAML:
		err = yaml.Unmarshal(doc, &h)
	case JSON:
		err = json.Unmarshal(doc, &h)
	default:
		return nil, fmt.Errorf("%w: header encoding %d", ErrFormat, enc)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing record header: %w", err)
	}

	r, err := fromHeader(h)
	if err != nil {
		return nil, err
	}
	log = logging.Or(log).WithComponent("state")
	if h.Payload != nil {
		var block []byte
		block, rest = splitBlock(rest, *h.Payload)
		if r.Image, err = decodePayload(block, *h.Payload, log); err != nil {
			return nil, err
		}
	}
	if h.GridPayload != nil {
		var block []byte
		block, _ = splitBlock(rest, *h.GridPayload)
		if r.Grid, err = decodePayload(block, *h.GridPayload, log); err != nil {
			return nil, fmt.Errorf("grid payload: %w", err)
		}
	}
	return r, nil
}

func splitBlock(data []byte, p models.Payload) (block, rest []byte) {
	if p.Bytes <= 0 || p.Bytes >= len(data) {
		return data, nil
	}
	return data[:p.Bytes], data[p.Bytes:]
}

func decodePayload(block []byte, p models.Payload, log *logging.Logger) ([]complex128, error) {
	if len(block) < 16 || string(block[:4]) != payloadMagic {
		return nil, fmt.Errorf("%w: missing payload", ErrFormat)
	}
	rows := int(binary.LittleEndian.Uint64(block[4:]))
	rowLen := int(binary.LittleEndian.Uint32(block[12:]))
	if rowLen != p.RowLength {
		return nil, fmt.Errorf("%w: payload rows hold %d values, header says %d", ErrFormat, rowLen, p.RowLength)
	}
	if rows != p.Rows {
		log.Warn("payload row count differs from header, using header value",
			"header_rows", p.Rows, "payload_rows", rows)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("state: zstd: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(block[16:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	want := p.Rows * p.RowLength
	if len(raw) < 16*want {
		return nil, fmt.Errorf("%w: %d values present, %d declared", ErrTruncated, len(raw)/16, want)
	}
	out := make([]complex128, want)
	for i := range out {
		re := math.Float64frombits(binary.LittleEndian.Uint64(raw[16*i:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(raw[16*i+8:]))
		out[i] = complex(re, im)
	}
	return out, nil
}

// Save writes r to path.
func Save(path string, r *Record, enc Encoding) error {
	var buf bytes.Buffer
	if err := Encode(&buf, r, enc); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing record file: %w", err)
	}
	return nil
}

// Load reads a record from path.
func Load(path string, log *logging.Logger) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening record file: %w", err)
	}
	defer f.Close()
	return Decode(f, log)
}
