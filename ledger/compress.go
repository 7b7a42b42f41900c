package ledger

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressor is one entry in the ordered compressor list a [fileStore] tries
// during finalization (§4.2). Suffix is the filename extension it writes
// under, e.g. "gz".
type compressor interface {
	Suffix() string
	Compress(raw []byte) ([]byte, error)
	Decompress(compressed []byte) ([]byte, error)
}

// defaultCompressors mirrors the original's (gz, bz2, xz) ordered list with
// libraries available in the Go ecosystem: klauspost/compress's gzip and
// zstd implementations (both already depended on by the erigon and
// go-ethereum trees in the reference pack) plus golang/snappy as a third,
// very-fast option. Order matters only in that is determines iteration
// order during compression selection (§4.2); the smallest compressed size
// wins regardless of position.
func defaultCompressors() []compressor {
	return []compressor{gzipCompressor{}, zstdCompressor{}, snappyCompressor{}}
}

type gzipCompressor struct{}

func (gzipCompressor) Suffix() string { return "gz" }

func (gzipCompressor) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("gzip: new writer: %w", err)
	}

	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("gzip: write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: close: %w", err)
	}

	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzip: new reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: read: %w", err)
	}

	return data, nil
}

type zstdCompressor struct{}

func (zstdCompressor) Suffix() string { return "zst" }

func (zstdCompressor) Compress(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("zstd: new encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(raw, nil), nil
}

func (zstdCompressor) Decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: new decoder: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: decode: %w", err)
	}

	return data, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Suffix() string { return "snappy" }

func (snappyCompressor) Compress(raw []byte) ([]byte, error) {
	return snappy.Encode(nil, raw), nil
}

func (snappyCompressor) Decompress(compressed []byte) ([]byte, error) {
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snappy: decode: %w", err)
	}

	return data, nil
}

// selectCompression picks the smallest encoding of raw across compressors,
// strictly smaller than len(raw) (§4.2: "pick the smallest strictly less
// than raw; ... If none beats raw, keep raw"). It returns the winning
// compressor (nil if none beat raw) and its compressed bytes.
func selectCompression(raw []byte, compressors []compressor) (compressor, []byte, error) {
	var (
		best     compressor
		bestData []byte
	)

	for _, c := range compressors {
		compressed, err := c.Compress(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("compress with %s: %w", c.Suffix(), err)
		}

		if len(compressed) < len(raw) && (best == nil || len(compressed) < len(bestData)) {
			best = c
			bestData = compressed
		}
	}

	return best, bestData, nil
}

func compressorBySuffix(suffix string, compressors []compressor) compressor {
	for _, c := range compressors {
		if c.Suffix() == suffix {
			return c
		}
	}

	return nil
}
