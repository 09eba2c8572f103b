package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3, 0, 0, 0, 0, 0}, 1024)

	for _, enabled := range []bool{true, false} {
		packed := compress(data, enabled)
		if enabled {
			assert.Equal(t, encodingZstd, packed[0])
			assert.Less(t, len(packed), len(data))
		} else {
			assert.Equal(t, encodingRaw, packed[0])
		}
		out, err := decompress(packed)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := decompress(nil)
	assert.Error(t, err)
	_, err = decompress([]byte{7, 1, 2})
	assert.Error(t, err)
	_, err = decompress([]byte{encodingZstd, 1, 2, 3})
	assert.Error(t, err)
}
