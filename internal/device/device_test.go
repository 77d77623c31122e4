package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabels(t *testing.T) {
	tests := []struct {
		name string
		devs []hostDevice
		want []string
	}{
		{
			name: "unique names kept",
			devs: []hostDevice{{"Mic", "ALSA"}, {"Headset", "ALSA"}},
			want: []string{"Mic", "Headset"},
		},
		{
			name: "shared name gets host",
			devs: []hostDevice{{"Speakers", "WASAPI"}, {"Speakers", "MME"}},
			want: []string{"Speakers (WASAPI)", "Speakers (MME)"},
		},
		{
			name: "same name and host gets counter",
			devs: []hostDevice{{"USB", "ALSA"}, {"USB", "ALSA"}, {"USB", "ALSA"}},
			want: []string{"USB (ALSA)", "USB (ALSA) #2", "USB (ALSA) #3"},
		},
		{
			name: "no host falls back to counter",
			devs: []hostDevice{{"Dup", ""}, {"Dup", ""}},
			want: []string{"Dup", "Dup #2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labels(tt.devs))
		})
	}
}
