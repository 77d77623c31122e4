package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArbiter(dev *fakeDevice) (*Arbiter, *fakeClock) {
	clock := newFakeClock()
	a := NewArbiter(DefaultConfig().Arbiter, dev, zerolog.Nop())
	a.sleep = clock.Sleep
	return a, clock
}

func silentFrame() []int16 { return make([]int16, 320) }

func activeFrame() []int16 {
	f := make([]int16, 320)
	for i := range f {
		f[i] = 500
	}
	return f
}

func TestArbiterStartsListening(t *testing.T) {
	a, _ := newTestArbiter(&fakeDevice{})
	assert.Equal(t, Listening, a.Mode())
	assert.Equal(t, ActivityState{Mode: Listening}, a.State())
}

func TestArbiterConfirmsBeforeSpeaking(t *testing.T) {
	dev := &fakeDevice{}
	a, clock := newTestArbiter(dev)

	assert.Equal(t, Listening, a.Observe(activeFrame()))
	assert.Equal(t, Listening, a.Observe(activeFrame()))
	assert.Empty(t, dev.Calls())

	assert.Equal(t, Speaking, a.Observe(activeFrame()))
	assert.Equal(t, []string{"DeactivateInput", "ActivateOutput"}, dev.Calls())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, clock.sleeps)
}

func TestArbiterSingleSpikeDoesNotFlip(t *testing.T) {
	dev := &fakeDevice{}
	a, _ := newTestArbiter(dev)
	for i := 0; i < 10; i++ {
		a.Observe(activeFrame())
		a.Observe(activeFrame())
		a.Observe(silentFrame())
	}
	assert.Equal(t, Listening, a.Mode())
	assert.Empty(t, dev.Calls())
}

func TestArbiterIdempotentWhileSpeaking(t *testing.T) {
	dev := &fakeDevice{}
	a, _ := newTestArbiter(dev)
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	dev.resetCalls()
	for i := 0; i < 50; i++ {
		assert.Equal(t, Speaking, a.Observe(activeFrame()))
	}
	assert.Empty(t, dev.Calls())
}

func TestArbiterSilenceThresholdExact(t *testing.T) {
	dev := &fakeDevice{}
	a, _ := newTestArbiter(dev)
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	require.Equal(t, Speaking, a.Mode())
	dev.resetCalls()

	for i := 1; i < 25; i++ {
		require.Equal(t, Speaking, a.Observe(silentFrame()), "frame %d", i)
	}
	assert.Equal(t, Listening, a.Observe(silentFrame()))
	assert.Equal(t, []string{"DeactivateOutput", "ActivateInput"}, dev.Calls())
}

func TestArbiterActiveFrameResetsSilence(t *testing.T) {
	a, _ := newTestArbiter(&fakeDevice{})
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	for i := 0; i < 24; i++ {
		a.Observe(silentFrame())
	}
	a.Observe(activeFrame())
	for i := 0; i < 24; i++ {
		a.Observe(silentFrame())
	}
	assert.Equal(t, Speaking, a.Mode())
	assert.Equal(t, 24, a.State().ConsecutiveSilentFrames)
	a.Observe(silentFrame())
	assert.Equal(t, Listening, a.Mode())
}

func TestArbiterDeactivateFailureAborts(t *testing.T) {
	dev := &fakeDevice{deactivateInputErr: errors.New("busy")}
	a, _ := newTestArbiter(dev)
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	assert.Equal(t, Listening, a.Mode())
	assert.Equal(t, []string{"DeactivateInput"}, dev.Calls())

	dev.deactivateInputErr = nil
	dev.resetCalls()
	assert.Equal(t, Speaking, a.Observe(activeFrame()), "next active frame retries")
}

func TestArbiterActivateFailureRestores(t *testing.T) {
	dev := &fakeDevice{activateOutputErr: errors.New("no dac")}
	a, _ := newTestArbiter(dev)
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	assert.Equal(t, Listening, a.Mode())
	assert.Equal(t, []string{"DeactivateInput", "ActivateOutput", "ActivateInput"}, dev.Calls())
}

func TestArbiterTransitionCallback(t *testing.T) {
	a, _ := newTestArbiter(&fakeDevice{})
	var got [][2]DeviceMode
	a.OnTransition = func(from, to DeviceMode) { got = append(got, [2]DeviceMode{from, to}) }
	for i := 0; i < 3; i++ {
		a.Observe(activeFrame())
	}
	for i := 0; i < 25; i++ {
		a.Observe(silentFrame())
	}
	assert.Equal(t, [][2]DeviceMode{{Listening, Speaking}, {Speaking, Listening}}, got)
}

func TestArbiterExclusiveBlocksHandoff(t *testing.T) {
	dev := &fakeDevice{}
	a, _ := newTestArbiter(dev)
	a.Observe(activeFrame())
	a.Observe(activeFrame())

	entered := make(chan struct{})
	release := make(chan struct{})
	go a.Exclusive(func(mode DeviceMode) {
		assert.Equal(t, Listening, mode)
		close(entered)
		<-release
	})
	<-entered

	done := make(chan DeviceMode)
	go func() { done <- a.Observe(activeFrame()) }()

	select {
	case <-done:
		t.Fatal("handoff ran while capture held the device")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	assert.Equal(t, Speaking, <-done)
}
