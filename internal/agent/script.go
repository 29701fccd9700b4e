package agent

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/prankcall/internal/session"
)

const (
	DefaultStopMessage = "Okay, my mistake. Have a great day. Goodbye."
	TimeLimitMessage   = "Thanks for your time, goodbye!"
)

// StopWords end the call when heard from either side.
var StopWords = []string{
	"stop",
	"not interested",
	"do not call",
	"wrong number",
	"remove me",
}

var ordinalPrefix = regexp.MustCompile(`^\d+\.\s*`)

// ParseBeats splits an outline into beats, dropping "1. " style prefixes and blank lines.
func ParseBeats(outline string) []string {
	var beats []string
	for _, line := range strings.Split(outline, "\n") {
		b := strings.TrimSpace(ordinalPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if b != "" {
			beats = append(beats, b)
		}
	}
	return beats
}

// Script walks the outline of one call and owns its time limit.
type Script struct {
	sess        *session.CallSession
	tts         Synthesizer
	maxDuration time.Duration
	now         func() time.Time

	mu      sync.Mutex
	beats   []string
	current int
	start   time.Time
	stopped bool
	timer   *time.Timer
	onBeat  func(string)
	onStop  func()
}

func NewScript(sess *session.CallSession, tts Synthesizer, maxDuration time.Duration) *Script {
	s := &Script{
		sess:        sess,
		tts:         tts,
		maxDuration: maxDuration,
		now:         time.Now,
		beats:       ParseBeats(sess.Outline),
	}
	s.start = s.now()
	sess.SetScript(s.beats, s.start)
	return s
}

// OnBeat registers where beats after the opening line are handed for the next reply.
func (s *Script) OnBeat(fn func(beat string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBeat = fn
}

// OnStop registers a hook run before the closing line is spoken.
func (s *Script) OnStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = fn
}

// Beats returns the parsed outline.
func (s *Script) Beats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.beats...)
}

// CurrentBeat is the number of beats consumed so far.
func (s *Script) CurrentBeat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Script) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Start arms the call time limit.
func (s *Script) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timer != nil || s.maxDuration <= 0 {
		return
	}
	remaining := s.maxDuration - s.now().Sub(s.start)
	if remaining < 0 {
		remaining = 0
	}
	s.timer = time.AfterFunc(remaining, func() {
		log.Printf("[%s] max call time reached", s.sess.CallSid)
		s.SendStop(TimeLimitMessage)
	})
}

// Stop cancels the time limit without speaking.
func (s *Script) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SendNextBeat advances the outline after an agent turn. Only the opening beat is
// spoken verbatim; later beats steer the next reply.
func (s *Script) SendNextBeat() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.maxDuration > 0 && s.now().Sub(s.start) > s.maxDuration {
		s.mu.Unlock()
		log.Printf("[%s] max call time exceeded, ending call", s.sess.CallSid)
		s.SendStop(TimeLimitMessage)
		return
	}
	if s.current >= len(s.beats) {
		s.mu.Unlock()
		return
	}
	if s.tts.IsPlaying() {
		s.mu.Unlock()
		return
	}
	beat := s.beats[s.current]
	s.current++
	n := s.current
	onBeat := s.onBeat
	s.mu.Unlock()

	s.sess.SetBeatIndex(n)
	log.Printf("[%s] sending beat %d: %q", s.sess.CallSid, n, beat)
	s.sess.AppendLog(session.SourceSystem, fmt.Sprintf("(Advancing to beat %d: %s)", n, beat))

	if n == 1 {
		s.sess.AppendLog(session.SourceAgent, beat)
		s.tts.SendText(beat)
		s.tts.Flush()
		return
	}
	if onBeat != nil {
		onBeat(beat)
	}
}

// IsStopWord reports whether text contains any stop word, ignoring case.
func (s *Script) IsStopWord(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range StopWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// SendStop speaks a closing line over anything currently playing. Only the first
// call has any effect; an empty message uses DefaultStopMessage.
func (s *Script) SendStop(message string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
	if message == "" {
		message = DefaultStopMessage
	}
	log.Printf("[%s] sending stop message", s.sess.CallSid)
	s.sess.AppendLog(session.SourceAgent, message)
	s.tts.Interrupt()
	s.tts.SendText(message)
	s.tts.Flush()
}
