package media

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/prankcall/internal/agent"
	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
	"github.com/chadiek/prankcall/internal/transcript"
	"github.com/chadiek/prankcall/internal/tts"
)

// Synthesizer is the per-call speech output. *tts.Stream satisfies it.
type Synthesizer interface {
	agent.Synthesizer
	Connect()
	Stop()
}

// SynthesizerFactory builds the speech output for one call, writing audio to sink.
type SynthesizerFactory func(sess *session.CallSession, sink tts.AudioSink) Synthesizer

// Archiver keeps a finished call's log somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, callSid string, logs []session.LogEntry) error
}

// Options configures every call. BargeInMinRMS is the energy an inbound frame
// needs to interrupt the agent; zero lets any frame interrupt.
type Options struct {
	MaxCallDuration time.Duration
	CleanupDelay    time.Duration
	BargeInMinRMS   float64
	Capture         transcript.Options
}

func DefaultOptions() Options {
	return Options{
		MaxCallDuration: 240 * time.Second,
		CleanupDelay:    30 * time.Second,
		Capture:         transcript.DefaultOptions(),
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		// Twilio does not send an Origin header
		return true
	},
}

// Handler serves the Twilio Media Streams websocket and runs one call per connection.
type Handler struct {
	registry   *session.Registry
	recognizer transcript.Recognizer
	completer  agent.Completer
	newSynth   SynthesizerFactory
	archiver   Archiver
	metrics    *metrics.Metrics
	opts       Options
}

func NewHandler(registry *session.Registry, rec transcript.Recognizer, completer agent.Completer, newSynth SynthesizerFactory, opts Options) *Handler {
	def := DefaultOptions()
	if opts.MaxCallDuration <= 0 {
		opts.MaxCallDuration = def.MaxCallDuration
	}
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = def.CleanupDelay
	}
	return &Handler{registry: registry, recognizer: rec, completer: completer, newSynth: newSynth, opts: opts}
}

func (h *Handler) WithArchiver(a Archiver) *Handler {
	h.archiver = a
	return h
}

func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	h.opts.Capture.Metrics = m
	return h
}

// ServeHTTP upgrades GET /ws/media?callSid=... and blocks until the stream ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	callSid := r.URL.Query().Get("callSid")
	if callSid == "" {
		log.Printf("media stream rejected: missing callSid")
		closePolicy(conn, "Missing callSid parameter")
		return
	}
	sess, err := h.registry.Get(callSid)
	if err != nil {
		log.Printf("[%s] media stream rejected: %v", callSid, err)
		closePolicy(conn, "Call session not found")
		return
	}

	c := newCall(h, conn, sess)
	c.run()
}

func closePolicy(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (h *Handler) archive(sess *session.CallSession) {
	if h.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.archiver.Archive(ctx, sess.CallSid, sess.Logs()); err != nil {
		log.Printf("[%s] transcript archive failed: %v", sess.CallSid, err)
		return
	}
	log.Printf("[%s] transcript archived", sess.CallSid)
}
