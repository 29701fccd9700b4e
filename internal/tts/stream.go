package tts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chadiek/prankcall/internal/audio"
	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
)

// AudioSink receives 8kHz mu-law audio for the caller.
type AudioSink interface {
	SendAudio(mulaw []byte) error
}

// Events is how a backend connection reports back to its Stream.
type Events interface {
	Audio(chunk []byte)
	Final()
	Closed(err error)
}

// Conn is one live connection to a synthesis backend.
type Conn interface {
	SendText(text string) error
	// Flush signals end of turn.
	Flush() error
	// Persistent reports whether the connection accepts new text after Flush.
	Persistent() bool
	Close() error
}

// Dialer opens backend connections.
type Dialer interface {
	Dial(ctx context.Context, ev Events) (Conn, error)
	// PCMRate is the sample rate of 16-bit PCM the backend emits, or 0 when
	// it already emits 8kHz mu-law.
	PCMRate() int
}

type Options struct {
	MaxReconnects int
	Backoff       time.Duration
	DialTimeout   time.Duration
	Metrics       *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{MaxReconnects: 3, Backoff: time.Second, DialTimeout: 10 * time.Second}
}

// Stream turns incremental text into caller audio through a backend connection,
// reconnecting a bounded number of times and supporting instant interruption.
type Stream struct {
	dialer Dialer
	sink   AudioSink
	sess   *session.CallSession
	opts   Options

	// sendMu orders writes to the backend; it is taken before mu, never after.
	sendMu sync.Mutex

	mu             sync.Mutex
	conn           Conn
	connected      bool
	connecting     bool
	queue          []string
	flushPending   bool
	sentSinceFlush bool
	eosSent        bool
	playing        bool
	epoch          uint64
	attempts       int
	healthy        bool
	earlyClose     error
	dialSeq        uint64
	gaveUp         bool
	closed         bool
	retry          *time.Timer

	// audioMu serializes delivery to the sink so an interrupt is observed between chunks.
	audioMu sync.Mutex
}

func NewStream(d Dialer, sink AudioSink, sess *session.CallSession, opts Options) *Stream {
	def := DefaultOptions()
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = def.MaxReconnects
	}
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	return &Stream{dialer: d, sink: sink, sess: sess, opts: opts}
}

// Connect opens the first backend connection in the background.
func (s *Stream) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn != nil || s.connecting {
		return
	}
	s.startDialLocked()
}

func (s *Stream) startDialLocked() {
	s.connecting = true
	go s.dial(s.epoch)
}

func (s *Stream) dial(epoch uint64) {
	s.mu.Lock()
	s.dialSeq++
	seq := s.dialSeq
	s.earlyClose = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	conn, err := s.dialer.Dial(ctx, &connEvents{s: s, epoch: epoch, seq: seq})
	cancel()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.connecting = false
	if err == nil && s.earlyClose != nil {
		// closed by the backend before we took it
		err = s.earlyClose
		s.earlyClose = nil
		go conn.Close()
	}
	if err != nil {
		s.connectionLostLocked(err)
		s.mu.Unlock()
		return
	}
	log.Printf("[%s] tts connected", s.sess.CallSid)
	s.conn = conn
	s.connected = true
	s.healthy = false
	s.eosSent = false
	pending := s.queue
	s.queue = nil
	flush := s.flushPending
	s.flushPending = false
	s.mu.Unlock()

	for i, text := range pending {
		if err := conn.SendText(text); err != nil {
			s.sendFailed(epoch, pending[i:], err)
			return
		}
		s.markSent(epoch)
	}
	if flush {
		s.flushConn(epoch, conn)
	}
}

// SendText streams a fragment of the current turn, or queues it while disconnected.
func (s *Stream) SendText(text string) {
	if text == "" {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.connected || (s.eosSent && !s.conn.Persistent()) {
		s.queue = append(s.queue, text)
		s.mu.Unlock()
		return
	}
	conn, epoch := s.conn, s.epoch
	s.mu.Unlock()

	if err := conn.SendText(text); err != nil {
		s.sendFailed(epoch, []string{text}, err)
		return
	}
	s.markSent(epoch)
}

// Flush ends the current turn so the backend emits its trailing audio.
func (s *Stream) Flush() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.connected || (s.eosSent && !s.conn.Persistent()) {
		if len(s.queue) > 0 {
			s.flushPending = true
		}
		s.mu.Unlock()
		return
	}
	if !s.sentSinceFlush {
		s.mu.Unlock()
		return
	}
	conn, epoch := s.conn, s.epoch
	s.mu.Unlock()
	s.flushConn(epoch, conn)
}

func (s *Stream) flushConn(epoch uint64, conn Conn) {
	if err := conn.Flush(); err != nil {
		s.sendFailed(epoch, nil, err)
		return
	}
	s.mu.Lock()
	if epoch == s.epoch {
		s.eosSent = true
		s.sentSinceFlush = false
	}
	s.mu.Unlock()
}

func (s *Stream) markSent(epoch uint64) {
	s.mu.Lock()
	if epoch == s.epoch {
		s.sentSinceFlush = true
	}
	s.mu.Unlock()
}

func (s *Stream) sendFailed(epoch uint64, unsent []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || epoch != s.epoch {
		return
	}
	log.Printf("[%s] tts send failed: %v", s.sess.CallSid, err)
	s.queue = append(unsent, s.queue...)
	old := s.conn
	s.dropConnLocked()
	if old != nil {
		go old.Close()
	}
	s.connectionLostLocked(err)
}

// Interrupt drops everything queued or in flight for the current turn and
// starts a fresh connection. It never waits on the network.
func (s *Stream) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	old := s.conn
	s.dropConnLocked()
	s.queue = nil
	s.flushPending = false
	s.playing = false
	if old != nil {
		go old.Close()
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if !s.gaveUp {
		s.startDialLocked()
	} else {
		s.connecting = false
	}
}

// dropConnLocked forgets the current connection and retires its epoch.
func (s *Stream) dropConnLocked() {
	s.epoch++
	s.conn = nil
	s.connected = false
	s.connecting = false
	s.eosSent = false
	s.sentSinceFlush = false
}

// IsPlaying reports whether audio of the current turn is still arriving.
func (s *Stream) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Stop closes the backend connection for good.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.conn
	s.dropConnLocked()
	s.queue = nil
	s.flushPending = false
	s.playing = false
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// connectionLostLocked schedules a reconnect with linear backoff, or gives up
// once the attempt budget is spent.
func (s *Stream) connectionLostLocked(err error) {
	if s.attempts >= s.opts.MaxReconnects {
		if !s.gaveUp {
			s.gaveUp = true
			log.Printf("[%s] tts giving up after %d reconnect attempts: %v", s.sess.CallSid, s.attempts, err)
			s.sess.AppendLog(session.SourceSystem, fmt.Sprintf("TTS Error: %v", err))
		}
		return
	}
	s.attempts++
	n := s.attempts
	s.opts.Metrics.RecordTTSReconnect()
	log.Printf("[%s] tts reconnecting (attempt %d): %v", s.sess.CallSid, n, err)
	epoch := s.epoch
	s.connecting = true
	s.retry = time.AfterFunc(time.Duration(n)*s.opts.Backoff, func() {
		s.mu.Lock()
		if s.closed || epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		s.retry = nil
		s.mu.Unlock()
		s.dial(epoch)
	})
}

func (s *Stream) handleAudio(epoch uint64, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if rate := s.dialer.PCMRate(); rate > 0 {
		chunk = audio.EncodeMulaw(chunk, rate)
	}
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.playing = true
	s.markHealthyLocked()
	s.mu.Unlock()
	if err := s.sink.SendAudio(chunk); err != nil {
		log.Printf("[%s] send audio to caller: %v", s.sess.CallSid, err)
	}
}

func (s *Stream) handleFinal(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch {
		s.playing = false
		s.markHealthyLocked()
	}
}

// markHealthyLocked resets the reconnect budget once a connection has
// delivered something; a connection that only completes the handshake does not count.
func (s *Stream) markHealthyLocked() {
	if s.healthy || !s.connected {
		return
	}
	s.healthy = true
	s.attempts = 0
}

func (s *Stream) handleClosed(epoch, seq uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || epoch != s.epoch || seq != s.dialSeq {
		return
	}
	if !s.connected {
		if s.connecting {
			if err == nil {
				err = fmt.Errorf("connection closed")
			}
			s.earlyClose = err
		}
		return
	}
	expected := s.eosSent
	s.dropConnLocked()
	s.playing = false
	if expected {
		// the backend ends its stream after an end-of-turn signal
		s.startDialLocked()
		return
	}
	if err == nil {
		err = fmt.Errorf("connection closed")
	}
	s.connectionLostLocked(err)
}

type connEvents struct {
	s     *Stream
	epoch uint64
	seq   uint64
}

func (e *connEvents) Audio(chunk []byte) { e.s.handleAudio(e.epoch, chunk) }
func (e *connEvents) Final()             { e.s.handleFinal(e.epoch) }
func (e *connEvents) Closed(err error)   { e.s.handleClosed(e.epoch, e.seq, err) }
