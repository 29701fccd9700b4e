package barge

import (
	"sync"

	"github.com/chadiek/prankcall/internal/audio"
)

// Detector decides whether inbound caller audio counts as the caller talking,
// for interrupting agent speech. Frames are voted on by energy and smoothed
// over the last few frames so a single click does not cut the agent off.
type Detector struct {
	threshold float64
	smoothN   int

	mu  sync.Mutex
	win []bool
}

// NewDetector returns a detector for 8kHz mu-law frames. A threshold of zero
// treats every frame as speech.
func NewDetector(threshold float64, smoothN int) *Detector {
	if smoothN <= 0 {
		smoothN = 4
	}
	return &Detector{threshold: threshold, smoothN: smoothN}
}

// Speech feeds one inbound frame and reports whether the caller is speaking.
func (d *Detector) Speech(mulaw []byte) bool {
	if d.threshold <= 0 {
		return len(mulaw) > 0
	}
	if len(mulaw) == 0 {
		return false
	}
	loud := audio.MulawRMS(mulaw) >= d.threshold

	d.mu.Lock()
	defer d.mu.Unlock()
	d.win = append(d.win, loud)
	if len(d.win) > d.smoothN {
		d.win = d.win[len(d.win)-d.smoothN:]
	}
	votes := 0
	for _, v := range d.win {
		if v {
			votes++
		}
	}
	return loud && votes*2 >= len(d.win)
}

// Reset forgets recent frames.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.win = nil
	d.mu.Unlock()
}
