// Package snapshot encodes database images into self-checking blobs.
//
// Blob format (little endian):
//
//	[0:4]   magic "NGSN"
//	[4]     format version (1)
//	[5]     codec actually used for the payload
//	[6:14]  uncompressed image size
//	[14:22] xxhash64 of the uncompressed image
//	[22:]   payload
//
// If compression does not help (ratio > 0.9) the payload is stored raw and
// the codec byte records CodecNone.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names a payload compression algorithm.
type Codec string

const (
	// CodecNone stores the image uncompressed.
	CodecNone Codec = "none"
	// CodecZstd compresses with zstd (better ratio).
	CodecZstd Codec = "zstd"
	// CodecLZ4 compresses with lz4 block compression (faster).
	CodecLZ4 Codec = "lz4"
)

// ErrCorrupt is returned when a blob fails header, size or checksum validation.
var ErrCorrupt = errors.New("snapshot: corrupt blob")

const (
	headerSize    = 22
	formatVersion = 1

	// MaxImageSize bounds the image a blob may declare or carry.
	MaxImageSize = 1 << 32

	// lz4MaxRatio is the largest expansion an lz4 block can produce.
	lz4MaxRatio = 255
)

var magic = []byte("NGSN")

var codecIDs = map[Codec]byte{CodecNone: 0, CodecLZ4: 1, CodecZstd: 2}

// ParseCodec maps a configuration string to a Codec. Empty selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "":
		return CodecZstd, nil
	case CodecNone, CodecZstd, CodecLZ4:
		return Codec(s), nil
	default:
		return "", fmt.Errorf("unknown snapshot codec %q", s)
	}
}

// zstd encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxImageSize))
	return dec
}

// Encode wraps image in a checksummed blob compressed with codec.
func Encode(image []byte, codec Codec) ([]byte, error) {
	if codec == "" {
		codec = CodecZstd
	}
	if _, ok := codecIDs[codec]; !ok {
		return nil, fmt.Errorf("unknown snapshot codec %q", codec)
	}
	if uint64(len(image)) > MaxImageSize {
		return nil, fmt.Errorf("snapshot: image of %d bytes exceeds %d", len(image), uint64(MaxImageSize))
	}

	payload, used, err := compress(image, codec)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compress (%s): %w", codec, err)
	}

	blob := make([]byte, headerSize+len(payload))
	copy(blob[0:4], magic)
	blob[4] = formatVersion
	blob[5] = codecIDs[used]
	binary.LittleEndian.PutUint64(blob[6:], uint64(len(image)))
	binary.LittleEndian.PutUint64(blob[14:], xxhash.Sum64(image))
	copy(blob[headerSize:], payload)
	return blob, nil
}

func compress(image []byte, codec Codec) ([]byte, Codec, error) {
	if codec == CodecNone || len(image) == 0 {
		return image, CodecNone, nil
	}

	var compressed []byte
	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(image)))
		n, err := lz4.CompressBlock(image, buf, nil)
		if err != nil {
			return nil, "", err
		}
		compressed = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		compressed = enc.EncodeAll(image, nil)
	}

	// If compression doesn't help (ratio > 0.9), store uncompressed
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(image))*0.9 {
		return image, CodecNone, nil
	}
	return compressed, codec, nil
}

// Decode validates blob and returns the original image.
func Decode(blob []byte) ([]byte, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[0:4], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	if blob[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, blob[4])
	}

	size := binary.LittleEndian.Uint64(blob[6:])
	sum := binary.LittleEndian.Uint64(blob[14:])
	payload := blob[headerSize:]
	if size > MaxImageSize {
		return nil, fmt.Errorf("%w: declared size %d exceeds %d", ErrCorrupt, size, uint64(MaxImageSize))
	}

	var image []byte
	switch blob[5] {
	case codecIDs[CodecNone]:
		image = append([]byte(nil), payload...)
	case codecIDs[CodecLZ4]:
		if size > uint64(len(payload))*lz4MaxRatio {
			return nil, fmt.Errorf("%w: declared size %d too large for %d byte payload", ErrCorrupt, size, len(payload))
		}
		image = make([]byte, size)
		n, err := lz4.UncompressBlock(payload, image)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		image = image[:n]
	case codecIDs[CodecZstd]:
		var frame zstd.Header
		if err := frame.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: zstd frame: %v", ErrCorrupt, err)
		}
		if frame.HasFCS && frame.FrameContentSize != size {
			return nil, fmt.Errorf("%w: zstd frame declares %d bytes, header says %d", ErrCorrupt, frame.FrameContentSize, size)
		}
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		image = decoded
	default:
		return nil, fmt.Errorf("%w: unknown codec id %d", ErrCorrupt, blob[5])
	}

	if uint64(len(image)) != size {
		return nil, fmt.Errorf("%w: size %d, header says %d", ErrCorrupt, len(image), size)
	}
	if xxhash.Sum64(image) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return image, nil
}
