// Package report persists layouts to disk.
//
// Both formats put a small header in front of the body so a reader can peek
// at the build target, timing and error of a report without parsing it all.
//
// JSON format:
//
//	{header JSON}\n
//	{body JSON}\n
//
// Binary format:
//
//	[4 bytes: magic "BGLY"]
//	[4 bytes: header length (big-endian)]
//	[header JSON]
//	[zstd-compressed body JSON]
//
// The header records the BLAKE3 digest of the uncompressed body JSON.
package report

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"bundlegraph/cas"
	"bundlegraph/layout"
)

const (
	// Version is the report format version written by this package.
	Version = 1

	HeaderLengthSize = 4
	MaxHeaderSize    = 1 * 1024 * 1024
)

var magic = []byte("BGLY")

var (
	ErrBadHeader      = errors.New("bad report header")
	ErrDigestMismatch = errors.New("report body digest mismatch")
	ErrUnknownFormat  = errors.New("unknown report format")
)

// Format selects the on-disk encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Ext returns the conventional file extension.
func (f Format) Ext() string {
	if f == FormatBinary {
		return ".bglayout"
	}
	return ".json"
}

// ParseFormat parses "json" or "binary".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "binary", "bin":
		return FormatBinary, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FileHeader is the independently readable prefix of a report.
type FileHeader struct {
	Version int `json:"version"`
	layout.Header
	Counts layout.Counts `json:"counts"`
	Digest string        `json:"digest"`
}

// Encode serializes l in format f.
func Encode(l *layout.Layout, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, l, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes l to w in format f.
func Write(w io.Writer, l *layout.Layout, f Format) error {
	body, err := json.Marshal(EncodeDocument(l))
	if err != nil {
		return fmt.Errorf("marshaling report body: %w", err)
	}
	hdr := FileHeader{
		Version: Version,
		Header:  l.Header,
		Counts:  l.Counts(),
		Digest:  cas.Blake3HashHex(body),
	}
	headerJSON, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("marshaling report header: %w", err)
	}

	switch f {
	case FormatJSON:
		var out bytes.Buffer
		out.Write(headerJSON)
		out.WriteByte('\n')
		out.Write(body)
		out.WriteByte('\n')
		if _, err := w.Write(out.Bytes()); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		return nil

	case FormatBinary:
		var prefix bytes.Buffer
		prefix.Write(magic)
		headerLen := make([]byte, HeaderLengthSize)
		binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
		prefix.Write(headerLen)
		prefix.Write(headerJSON)
		if _, err := w.Write(prefix.Bytes()); err != nil {
			return fmt.Errorf("writing report header: %w", err)
		}

		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		if _, err := encoder.Write(body); err != nil {
			encoder.Close()
			return fmt.Errorf("compressing: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("closing encoder: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
}

func readHeader(br *bufio.Reader) (*FileHeader, Format, error) {
	lead, err := br.Peek(len(magic))
	if err != nil && len(lead) == 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	var (
		headerData []byte
		format     Format
	)
	switch {
	case bytes.Equal(lead, magic):
		format = FormatBinary
		if _, err := br.Discard(len(magic)); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		lenBuf := make([]byte, HeaderLengthSize)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return nil, 0, fmt.Errorf("%w: reading length: %v", ErrBadHeader, err)
		}
		headerLen := binary.BigEndian.Uint32(lenBuf)
		if headerLen > MaxHeaderSize {
			return nil, 0, fmt.Errorf("%w: header too large: %d bytes", ErrBadHeader, headerLen)
		}
		headerData = make([]byte, headerLen)
		if _, err := io.ReadFull(br, headerData); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}

	case lead[0] == '{':
		format = FormatJSON
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		headerData = bytes.TrimSpace(line)

	default:
		return nil, 0, ErrUnknownFormat
	}

	var hdr FileHeader
	if err := json.Unmarshal(headerData, &hdr); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if hdr.Version != Version {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, hdr.Version)
	}
	return &hdr, format, nil
}

// ReadHeader reads only the header prefix from r.
func ReadHeader(r io.Reader) (*FileHeader, Format, error) {
	return readHeader(bufio.NewReader(r))
}

// Read reads a full report from r, detecting its format.
func Read(r io.Reader) (*layout.Layout, error) {
	br := bufio.NewReader(r)
	hdr, format, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch format {
	case FormatBinary:
		decoder, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer decoder.Close()
		if body, err = io.ReadAll(decoder); err != nil {
			return nil, fmt.Errorf("decompressing: %w", err)
		}
	default:
		if body, err = io.ReadAll(br); err != nil {
			return nil, fmt.Errorf("reading report body: %w", err)
		}
		body = bytes.TrimSpace(body)
	}

	if got := cas.Blake3HashHex(body); got != hdr.Digest {
		return nil, fmt.Errorf("%w: header %s, body %s", ErrDigestMismatch, cas.ShortID(hdr.Digest), cas.ShortID(got))
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing report body: %w", err)
	}
	return DecodeDocument(hdr.Header, &doc)
}

// Decode reads a full report from data.
func Decode(data []byte) (*layout.Layout, error) {
	return Read(bytes.NewReader(data))
}

// WriteFile writes l to path, creating parent directories.
func WriteFile(path string, l *layout.Layout, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	if err := Write(file, l, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadFile reads a full report from path.
func ReadFile(path string) (*layout.Layout, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening report: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// PeekFile reads only the header of the report at path.
func PeekFile(path string) (*FileHeader, Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening report: %w", err)
	}
	defer file.Close()
	return ReadHeader(file)
}
