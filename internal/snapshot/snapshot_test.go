package snapshot

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("SQLite format 3\x00 node_properties "), 512)
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		for name, image := range map[string][]byte{
			"compressible": compressible,
			"random":       random,
			"empty":        {},
		} {
			t.Run(string(codec)+"/"+name, func(t *testing.T) {
				blob, err := Encode(image, codec)
				require.NoError(t, err)

				got, err := Decode(blob)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(image, got), "round trip mismatch")
			})
		}
	}
}

func TestEncode_Compresses(t *testing.T) {
	image := bytes.Repeat([]byte("abcdefgh"), 4096)

	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		blob, err := Encode(image, codec)
		require.NoError(t, err)
		assert.Less(t, len(blob), len(image)/2, "codec %s", codec)
		assert.Equal(t, codecIDs[codec], blob[5])
	}
}

func TestEncode_IncompressibleStoredRaw(t *testing.T) {
	image := make([]byte, 2048)
	_, err := rand.Read(image)
	require.NoError(t, err)

	blob, err := Encode(image, CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, codecIDs[CodecNone], blob[5])
}

func TestDecode_DetectsCorruption(t *testing.T) {
	image := bytes.Repeat([]byte("graph"), 100)
	blob, err := Encode(image, CodecNone)
	require.NoError(t, err)

	flipped := append([]byte(nil), blob...)
	flipped[len(flipped)-1] ^= 0xff
	_, err = Decode(flipped)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode([]byte("short"))
	assert.ErrorIs(t, err, ErrCorrupt)

	badMagic := append([]byte(nil), blob...)
	badMagic[0] = 'X'
	_, err = Decode(badMagic)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	image := bytes.Repeat([]byte("abcdefgh"), 4096)

	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		blob, err := Encode(image, codec)
		require.NoError(t, err)
		require.Equal(t, codecIDs[codec], blob[5])

		for _, size := range []uint64{1 << 62, MaxImageSize + 1, 1 << 31, uint64(len(image)) * 1000} {
			bad := append([]byte(nil), blob...)
			binary.LittleEndian.PutUint64(bad[6:], size)

			var got []byte
			require.NotPanics(t, func() { got, err = Decode(bad) }, "codec %s size %d", codec, size)
			assert.ErrorIs(t, err, ErrCorrupt, "codec %s size %d", codec, size)
			assert.Nil(t, got)
		}
	}
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)

	c, err = ParseCodec("lz4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)

	_, err = ParseCodec("gzip")
	assert.Error(t, err)
}
