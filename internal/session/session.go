package session

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no session is registered for a call id.
var ErrNotFound = errors.New("session not found")

// Source identifies who produced a log entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// LogEntry is one line of the call transcript. Entries are immutable once appended.
type LogEntry struct {
	ID        int64     `json:"id"`
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ScriptState is a snapshot of the conversation outline progress.
type ScriptState struct {
	Beats            []string  `json:"beats"`
	CurrentBeatIndex int       `json:"currentBeatIndex"`
	StartTime        time.Time `json:"startTime"`
}

// CallSession holds the state of one live call.
type CallSession struct {
	CallSid string
	Theme   string
	Outline string
	VoiceID string

	mu     sync.Mutex
	logs   []LogEntry
	lastID int64
	script *ScriptState
	now    func() time.Time
}

// New creates a session for a freshly placed call.
func New(callSid, theme, outline, voiceID string) *CallSession {
	return &CallSession{
		CallSid: callSid,
		Theme:   theme,
		Outline: outline,
		VoiceID: voiceID,
		now:     time.Now,
	}
}

// AppendLog records a transcript line and returns it.
// IDs are derived from the append time in milliseconds and forced strictly increasing.
func (s *CallSession) AppendLog(src Source, text string) LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now()
	id := ts.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	e := LogEntry{ID: id, Source: src, Text: text, Timestamp: ts}
	s.logs = append(s.logs, e)
	return e
}

// Logs returns a copy of the transcript in append order.
func (s *CallSession) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// SetScript attaches the parsed outline once the audio session starts.
func (s *CallSession) SetScript(beats []string, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]string, len(beats))
	copy(b, beats)
	s.script = &ScriptState{Beats: b, StartTime: start}
}

// SetBeatIndex records outline progress. The index never moves backwards.
func (s *CallSession) SetBeatIndex(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.script == nil {
		return
	}
	if idx > len(s.script.Beats) {
		idx = len(s.script.Beats)
	}
	if idx > s.script.CurrentBeatIndex {
		s.script.CurrentBeatIndex = idx
	}
}

// Script returns a copy of the outline progress, or nil before the audio session attaches.
func (s *CallSession) Script() *ScriptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.script == nil {
		return nil
	}
	cp := *s.script
	cp.Beats = append([]string(nil), s.script.Beats...)
	return &cp
}
