// Package compress packs document snapshots for storage and transport:
// an LZ4 block with the uncompressed length prepended, wrapped in
// standard base64 so the result survives JSON and copy-paste.
package compress

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/pierrec/lz4/v4"
)

// sizePrefixLen is the little-endian uncompressed-length header.
const sizePrefixLen = 4

// maxExpansion bounds the claimed uncompressed size against the block
// length before any buffer is allocated.
const maxExpansion = 256

// Compress packs the input. The output layout is
// base64(4-byte LE uncompressed length || LZ4 block). Inputs the block
// compressor cannot shrink are stored as a literal-only block, so the
// output is always decodable.
func Compress(data string) (string, error) {
	src := []byte(data)

	buf := make([]byte, sizePrefixLen, sizePrefixLen+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(buf, uint32(len(src)))

	if len(src) > 0 {
		block := buf[sizePrefixLen : sizePrefixLen+lz4.CompressBlockBound(len(src))]
		n, err := lz4.CompressBlock(src, block, nil)
		if err != nil {
			return "", fmt.Errorf("compression error: %w", err)
		}
		if n == 0 {
			// Incompressible; emit the bytes as one literal run.
			buf = appendLiteralBlock(buf, src)
		} else {
			buf = buf[:sizePrefixLen+n]
		}
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decompress reverses Compress.
func Decompress(data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("base64 decode error: %w", err)
	}

	out, err := decodeSizePrepended(raw)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("utf-8 decode error: payload is not valid UTF-8")
	}
	return string(out), nil
}

// IsCompressed probes whether the string is a decodable Compress
// output. Short strings and plain text answer false.
func IsCompressed(data string) bool {
	if len(data) < 10 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false
	}
	_, err = decodeSizePrepended(raw)
	return err == nil
}

// Ratio returns the space saving in percent: positive when compressed
// is smaller than original, zero for empty input.
func Ratio(original, compressed string) float64 {
	if len(original) == 0 {
		return 0
	}
	return float64(len(original)-len(compressed)) / float64(len(original)) * 100
}

func decodeSizePrepended(raw []byte) ([]byte, error) {
	if len(raw) < sizePrefixLen {
		return nil, fmt.Errorf("decompression error: truncated size prefix")
	}
	size := binary.LittleEndian.Uint32(raw)
	// An LZ4 block expands at most ~255x; a claimed size beyond that is
	// a corrupt or foreign prefix, not a snapshot.
	if uint64(size) > uint64(len(raw)-sizePrefixLen)*maxExpansion {
		return nil, fmt.Errorf("decompression error: implausible uncompressed size %d", size)
	}
	if size == 0 {
		if len(raw) != sizePrefixLen {
			return nil, fmt.Errorf("decompression error: trailing bytes after empty payload")
		}
		return nil, nil
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(raw[sizePrefixLen:], out)
	if err != nil {
		return nil, fmt.Errorf("decompression error: %w", err)
	}
	if uint32(n) != size {
		return nil, fmt.Errorf("decompression error: size mismatch (want %d, got %d)", size, n)
	}
	return out, nil
}

// appendLiteralBlock emits src as a single LZ4 sequence of literals
// with no match part, the representation the block format reserves for
// a final sequence.
func appendLiteralBlock(dst, src []byte) []byte {
	n := len(src)
	if n < 15 {
		dst = append(dst, byte(n)<<4)
	} else {
		dst = append(dst, 0xF0)
		for rest := n - 15; ; rest -= 255 {
			if rest < 255 {
				dst = append(dst, byte(rest))
				break
			}
			dst = append(dst, 255)
		}
	}
	return append(dst, src...)
}
