package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackJPGPNGRoundTrip(t *testing.T) {
	rgb := []byte{1, 2, 3, 4, 5}
	depth := []byte{9, 9, 9, 9}
	meta := `{"frame":1}`

	packed := Pack(rgb, depth, meta)
	frame, err := Unpack(packed)
	require.NoError(t, err)

	assert.Equal(t, PackJPGPNG, frame.PackType)
	assert.InDelta(t, 0, rmse(rgb, frame.RGB), 5)
	assert.Equal(t, depth, frame.Depth)
	assert.Equal(t, meta, frame.Meta)
}

func TestPackUnpackJPGRoundTripHasNilDepth(t *testing.T) {
	rgb := []byte{10, 20, 30}
	meta := "no-depth"

	packed := Pack(rgb, nil, meta)
	frame, err := Unpack(packed)
	require.NoError(t, err)

	assert.Equal(t, PackJPG, frame.PackType)
	assert.Equal(t, rgb, frame.RGB)
	assert.Nil(t, frame.Depth)
	assert.Equal(t, meta, frame.Meta)
}

func TestUnpackRejectsLengthMismatch(t *testing.T) {
	packed := Pack([]byte{1, 2, 3}, []byte{4, 5}, "meta")
	packed = packed[:len(packed)-1] // truncate to break the declared lengths
	_, err := Unpack(packed)
	assert.Error(t, err)
}

func TestUnpackRejectsShortHeader(t *testing.T) {
	_, err := Unpack([]byte{1, 2, 3})
	assert.Error(t, err)
}

func rmse(a, b []byte) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a)))
}
