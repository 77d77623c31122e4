package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "speex", SampleRate: 16000, FrameSamples: 320})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New(Config{Backend: BackendOpus, SampleRate: 16000})
	require.Error(t, err)
}

func TestBackendsSorted(t *testing.T) {
	names := Backends()
	assert.IsNonDecreasing(t, names)
}

func TestCheckGeometry(t *testing.T) {
	tests := []struct {
		rate, samples int
		ok            bool
	}{
		{16000, 320, true},
		{48000, 960, true},
		{8000, 20, true},
		{16000, 40, true},
		{24000, 1440, true},
		{16000, 300, false},
		{16000, 0, false},
		{44100, 882, false},
		{16000, 1280, false},
	}
	for _, tt := range tests {
		err := CheckGeometry(tt.rate, tt.samples)
		if tt.ok {
			assert.NoError(t, err, "%d Hz / %d", tt.rate, tt.samples)
		} else {
			assert.Error(t, err, "%d Hz / %d", tt.rate, tt.samples)
		}
	}
}
