package barge

import (
	"testing"
)

func frame(b byte) []byte {
	f := make([]byte, 160)
	for i := range f {
		f[i] = b
	}
	return f
}

// 0xFF decodes to silence, 0x80 to full scale.
var (
	quiet = frame(0xFF)
	loud  = frame(0x80)
)

func TestDetector_ZeroThresholdAlwaysSpeech(t *testing.T) {
	d := NewDetector(0, 4)
	if !d.Speech(quiet) {
		t.Fatalf("expected any frame to count without a threshold")
	}
	if d.Speech(nil) {
		t.Fatalf("expected empty frame to be ignored")
	}
}

func TestDetector_GatesOnEnergy(t *testing.T) {
	d := NewDetector(500, 4)
	if d.Speech(quiet) {
		t.Fatalf("expected silence below threshold")
	}
	d.Reset()
	if !d.Speech(loud) {
		t.Fatalf("expected loud frame to count as speech")
	}
}

func TestDetector_SmoothsIsolatedClicks(t *testing.T) {
	d := NewDetector(500, 4)
	d.Speech(quiet)
	d.Speech(quiet)
	d.Speech(quiet)
	if d.Speech(loud) {
		t.Fatalf("expected one loud frame after silence to be smoothed away")
	}
	if !d.Speech(loud) {
		t.Fatalf("expected sustained speech to trigger")
	}
	if d.Speech(quiet) {
		t.Fatalf("expected a quiet frame never to trigger")
	}
}
