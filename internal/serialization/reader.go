package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/born-ml/tagger/internal/tensor"
)

// Read decodes a complete .born stream, verifying the checksum and every
// tensor entry before any tensor is materialized.
func Read(r io.Reader) (map[string]*tensor.Tensor, Header, error) {
	var header Header

	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, header, fmt.Errorf("%w: fixed header: %v", ErrTruncated, err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, header, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, header, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	dataSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, header, ErrHeaderTooLarge
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, header, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, header, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	padding := alignedHeaderEnd(int64(headerSize)) - int64(FixedHeaderSize) - int64(headerSize)
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, header, fmt.Errorf("%w: padding: %v", ErrTruncated, err)
	}

	var buf bytes.Buffer
	if n, err := io.CopyN(&buf, r, int64(dataSize)); err != nil {
		return nil, header, fmt.Errorf("%w: data section has %d of %d bytes", ErrTruncated, n, dataSize)
	}
	data := buf.Bytes()
	if err := VerifyChecksum(data, stored); err != nil {
		return nil, header, err
	}
	if err := ValidateHeader(&header, int64(len(data))); err != nil {
		return nil, header, fmt.Errorf("validation failed: %w", err)
	}

	state := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		raw := data[meta.Offset : meta.Offset+meta.Size]
		values := make([]float32, meta.Size/float32Size)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*float32Size:]))
		}
		t, err := tensor.Wrap(values, tensor.Shape(meta.Shape))
		if err != nil {
			return nil, header, fmt.Errorf("tensor %q: %w", meta.Name, err)
		}
		state[meta.Name] = t
	}
	return state, header, nil
}

// ReadFile reads a .born file from disk.
func ReadFile(path string) (map[string]*tensor.Tensor, Header, error) {
	//nolint:gosec // G304: checkpoint paths come from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	state, header, err := Read(f)
	if err != nil {
		return nil, header, fmt.Errorf("%s: %w", path, err)
	}
	return state, header, nil
}

// ReadHeader returns only the header of a .born file, without reading or
// verifying the tensor data.
func ReadHeader(path string) (Header, error) {
	var header Header

	//nolint:gosec // G304: checkpoint paths come from configuration
	f, err := os.Open(path)
	if err != nil {
		return header, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(f, fixed); err != nil {
		return header, fmt.Errorf("%w: fixed header: %v", ErrTruncated, err)
	}
	if string(fixed[0:4]) != MagicBytes {
		return header, ErrInvalidMagic
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	if headerSize > MaxHeaderSize {
		return header, ErrHeaderTooLarge
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerJSON); err != nil {
		return header, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return header, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return header, nil
}
