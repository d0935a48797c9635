// Package embedding centralizes the binary (de)serialization of embedding
// vectors stored in sidecar files and legacy index documents.
//
// The current on-disk format is a raw little-endian float32 array. Decoding
// additionally understands two legacy formats written by earlier versions:
// a gzip-compressed float32 array and a quantized-int8 payload. Encoding
// always produces the current format, so the legacy cost is paid once per
// migration.
package embedding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// quantizedMagic prefixes legacy quantized-int8 payloads:
// magic, float32 scale (little endian), then one int8 per dimension.
var quantizedMagic = [4]byte{'E', 'Q', 'I', '8'}

// gzip member header, RFC 1952.
var gzipMagic = [2]byte{0x1f, 0x8b}

// Encode serializes a vector in the current format.
func Encode(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode deserializes a vector, trying the legacy formats before falling
// back to the current raw encoding. A nil/empty payload decodes to nil.
func Decode(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if len(data) >= len(quantizedMagic) && bytes.Equal(data[:len(quantizedMagic)], quantizedMagic[:]) {
		return decodeQuantized(data[len(quantizedMagic):])
	}

	if len(data) >= len(gzipMagic) && data[0] == gzipMagic[0] && data[1] == gzipMagic[1] {
		return decodeGzip(data)
	}

	return decodeRaw(data)
}

func decodeRaw(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding: payload length %d is not a multiple of 4", len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

func decodeGzip(data []byte) ([]float32, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embedding: open gzip payload: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("embedding: inflate gzip payload: %w", err)
	}
	return decodeRaw(raw)
}

func decodeQuantized(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("embedding: quantized payload truncated (%d bytes)", len(data))
	}
	scale := math.Float32frombits(binary.LittleEndian.Uint32(data))
	codes := data[4:]

	vector := make([]float32, len(codes))
	for i, c := range codes {
		vector[i] = float32(int8(c)) * scale
	}
	return vector, nil
}
