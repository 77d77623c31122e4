// Package device drives the speaker and microphone through PortAudio
// blocking streams. Activating a path starts its stream and deactivating
// stops it, which is what the half-duplex arbiter toggles.
package device

import (
	"errors"
	"fmt"
)

// DefaultLabel selects the host's default device.
const DefaultLabel = "Default (system)"

var (
	ErrUnavailable = errors.New("device: audio backend not available in this build")
	ErrInactive    = errors.New("device: stream is not active")
	ErrNotFound    = errors.New("device: not found")
)

type Config struct {
	SampleRate   int
	FrameSamples int
	InputLabel   string
	OutputLabel  string
}

type hostDevice struct {
	Name string
	Host string
}

// labels gives every device a unique display label. Names shared across
// host APIs get the host appended, and leftover duplicates get a counter.
func labels(devs []hostDevice) []string {
	nameCounts := make(map[string]int, len(devs))
	for _, d := range devs {
		nameCounts[d.Name]++
	}

	used := make(map[string]int, len(devs))
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		label := d.Name
		if nameCounts[d.Name] > 1 && d.Host != "" {
			label = fmt.Sprintf("%s (%s)", d.Name, d.Host)
		}
		if n := used[label]; n > 0 {
			label = fmt.Sprintf("%s #%d", label, n+1)
		}
		used[label]++
		out = append(out, label)
	}
	return out
}
