// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// contentCodec identifies how an event's content column is encoded.
// Stored per row; protocol constants, do not renumber.
type contentCodec int

const (
	// codecJSON is plain JSON.
	codecJSON contentCodec = 0

	// codecJSONZstd is zstd-compressed JSON, used when the plain
	// encoding exceeds compressThreshold and compression actually
	// shrinks it.
	codecJSONZstd contentCodec = 2
)

// compressThreshold is the plain-JSON size above which content is
// compressed. Typical message bodies stay below it; large state
// events (power-level tables, bridged payloads) benefit.
const compressThreshold = 1024

// contentEncoder and contentDecoder are shared across calls; both are
// safe for concurrent use.
var (
	contentEncoder *zstd.Encoder
	contentDecoder *zstd.Decoder
)

func init() {
	var err error
	contentEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	contentDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeContent serializes an event content map for storage. Returns
// the stored bytes, the codec tag, and the uncompressed size.
func encodeContent(content map[string]any) ([]byte, contentCodec, int, error) {
	plain, err := json.Marshal(content)
	if err != nil {
		return nil, codecJSON, 0, fmt.Errorf("store: marshal content: %w", err)
	}
	if len(plain) < compressThreshold {
		return plain, codecJSON, len(plain), nil
	}
	compressed := contentEncoder.EncodeAll(plain, nil)
	if len(compressed) >= len(plain) {
		// Incompressible content is stored plain.
		return plain, codecJSON, len(plain), nil
	}
	return compressed, codecJSONZstd, len(plain), nil
}

// decodeContent reverses encodeContent. The stored uncompressed size
// is verified against the decompression result.
func decodeContent(stored []byte, codec contentCodec, uncompressedSize int) (map[string]any, error) {
	var plain []byte
	switch codec {
	case codecJSON:
		plain = stored
	case codecJSONZstd:
		decompressed, err := contentDecoder.DecodeAll(stored, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("store: decompress content: %w", err)
		}
		if len(decompressed) != uncompressedSize {
			return nil, fmt.Errorf("store: decompressed content is %d bytes, expected %d", len(decompressed), uncompressedSize)
		}
		plain = decompressed
	default:
		return nil, fmt.Errorf("store: unknown content codec %d", codec)
	}

	var content map[string]any
	if err := json.Unmarshal(plain, &content); err != nil {
		return nil, fmt.Errorf("store: unmarshal content: %w", err)
	}
	return content, nil
}
