// Package compression compresses post bodies before they are stored.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/gzip"
)

type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// None stores data as is.
type None struct{}

func (None) Compress(data []byte) ([]byte, error)   { return data, nil }
func (None) Decompress(data []byte) ([]byte, error) { return data, nil }

// ByName returns the compressor configured under name: "zstd", "gzip", "gzip-fast" or "none".
func ByName(name string) (Compressor, error) {
	switch name {
	case "", "zstd":
		return ZstdCompressor{}, nil
	case "gzip":
		return GzipCompressor{}, nil
	case "gzip-fast":
		return GzipCompressor{Level: gzip.BestSpeed}, nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}
