/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package compression provides configurable compression for SCDB.

Compression Overview:
=====================

This module implements configurable compression for:
- WAL write-record payloads to reduce disk I/O
- Container table/index page blocks
- Batch operations for better compression ratios

Supported Algorithms:
=====================

1. Gzip: the DefaultConfig algorithm, level-configurable
2. LZ4: Fast compression/decompression, moderate ratio
3. Snappy: Very fast, lower ratio, good for real-time
4. Zstd: Best ratio, configurable speed/ratio tradeoff

Batch Compression:
==================

Batching multiple entries before compression improves ratios:
1. Collect entries into a batch
2. Compress the entire batch
3. Store/transmit compressed batch
4. Decompress and split on read
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents compression level
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration
type Config struct {
	Algorithm        Algorithm `json:"algorithm"`
	Level            Level     `json:"level"`
	MinSize          int       `json:"min_size"`           // Minimum size to compress
	BatchSize        int       `json:"batch_size"`         // Number of entries per batch
	BatchTimeout     int       `json:"batch_timeout_ms"`   // Max wait time for batch (ms)
	DictionaryEnable bool      `json:"dictionary_enable"`  // Use dictionary compression
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmGzip,
		Level:            LevelDefault,
		MinSize:          256,
		BatchSize:        100,
		BatchTimeout:     10,
		DictionaryEnable: false,
	}
}

// Errors
var (
	ErrDataTooSmall     = errors.New("data too small to compress")
	ErrInvalidHeader    = errors.New("invalid compression header")
	ErrUnsupportedAlgo  = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

// Compressor provides compression/decompression operations
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
}

// NewCompressor creates a new compressor
func NewCompressor(config Config) *Compressor {
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// frame markers prefix every Compress() output so Decompress can tell a
// below-threshold passthrough from an actually-compressed payload without
// trusting the caller's algorithm argument.
const (
	framePassthrough byte = 0
	frameCompressed  byte = 1
)

func gzipLevel(l Level) int {
	switch {
	case l <= LevelFastest:
		return gzip.BestSpeed
	case l >= LevelBest:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

// Compress encodes data with the Compressor's configured algorithm, falling
// back to an uncompressed passthrough frame when data is shorter than
// config.MinSize.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) < c.config.MinSize {
		out := make([]byte, 1+len(data))
		out[0] = framePassthrough
		copy(out[1:], data)
		return out, nil
	}

	payload, err := c.encode(data, c.config.Algorithm)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(payload))
	out[0] = frameCompressed
	copy(out[1:], payload)
	return out, nil
}

// Decompress reverses Compress. algo must match the algorithm Compress was
// called with, unless the frame is a passthrough (below MinSize), in which
// case algo is ignored.
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) < 1 {
		return nil, ErrInvalidHeader
	}
	marker, payload := data[0], data[1:]
	switch marker {
	case framePassthrough:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case frameCompressed:
		return c.decode(payload, algo)
	default:
		return nil, ErrInvalidHeader
	}
}

func (c *Compressor) encode(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case AlgorithmGzip:
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		gw, err := gzip.NewWriterLevel(buf, gzipLevel(c.config.Level))
		if err != nil {
			return nil, fmt.Errorf("compression: gzip writer: %w", err)
		}
		if _, err := gw.Write(data); err != nil {
			gw.Close()
			return nil, fmt.Errorf("compression: gzip write: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("compression: gzip close: %w", err)
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out, nil

	case AlgorithmLZ4:
		buf := c.bufferPool.Get().(*bytes.Buffer)
		buf.Reset()
		defer c.bufferPool.Put(buf)

		lw := lz4.NewWriter(buf)
		if _, err := lw.Write(data); err != nil {
			lw.Close()
			return nil, fmt.Errorf("compression: lz4 write: %w", err)
		}
		if err := lw.Close(); err != nil {
			return nil, fmt.Errorf("compression: lz4 close: %w", err)
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		return out, nil

	case AlgorithmSnappy:
		return snappy.Encode(nil, data), nil

	case AlgorithmZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(c.config.Level)))
		if err != nil {
			return nil, fmt.Errorf("compression: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}

func (c *Compressor) decode(data []byte, algo Algorithm) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil

	case AlgorithmGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmLZ4:
		lr := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(lr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case AlgorithmZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	default:
		return nil, ErrUnsupportedAlgo
	}
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// BatchCompressor accumulates several entries and compresses them together
// as one length-prefixed frame, improving the compression ratio for small
// related records (e.g. a burst of WAL entries) versus compressing each in
// isolation.
type BatchCompressor struct {
	compressor *Compressor
	entries    [][]byte
}

// NewBatchCompressor creates a BatchCompressor using config's algorithm.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{compressor: NewCompressor(config)}
}

// Add appends an entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	e := make([]byte, len(entry))
	copy(e, entry)
	b.entries = append(b.entries, e)
}

// Flush concatenates the pending batch as a length-prefixed stream and
// compresses it as a single unit, then clears the batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(b.entries)))
	for _, e := range b.entries {
		binary.Write(&buf, binary.LittleEndian, uint32(len(e)))
		buf.Write(e)
	}
	b.entries = nil
	return b.compressor.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, returning the individual entries in order.
func (b *BatchCompressor) DecompressBatch(compressed []byte, algo Algorithm) ([][]byte, error) {
	raw, err := b.compressor.Decompress(compressed, algo)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	entries := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		entry := make([]byte, n)
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

