package pipeline

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	Mode        DeviceMode
	Activity    ActivityState
	BufferDepth int
	Intake      map[string]uint64
	Playback    map[string]uint64
	Capture     map[string]uint64
	Transitions uint64
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		Mode:        p.arb.Mode(),
		Activity:    p.arb.State(),
		BufferDepth: p.jb.Len(),
		Intake:      make(map[string]uint64, verdictCount),
		Playback:    make(map[string]uint64, playbackResultCount),
		Capture:     make(map[string]uint64, captureResultCount),
		Transitions: p.transitions.Load(),
	}
	for i := range p.intakeCounts {
		if n := p.intakeCounts[i].Load(); n > 0 {
			s.Intake[Verdict(i).String()] = n
		}
	}
	for i := range p.playbackCounts {
		if n := p.playbackCounts[i].Load(); n > 0 {
			s.Playback[PlaybackResult(i).String()] = n
		}
	}
	for i := range p.captureCounts {
		if n := p.captureCounts[i].Load(); n > 0 {
			s.Capture[CaptureResult(i).String()] = n
		}
	}
	return s
}
