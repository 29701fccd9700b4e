package transcript

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/prankcall/internal/audio"
	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
)

// Recognizer turns one finished utterance into text.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// Options tunes utterance segmentation.
type Options struct {
	MinUtterance time.Duration
	MaxUtterance time.Duration
	Silence      time.Duration
	Tick         time.Duration
	Language     string
	// VoiceMinRMS gates which chunks count as speech for the silence clock.
	// Zero treats every chunk as speech.
	VoiceMinRMS    float64
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		MinUtterance:   time.Second,
		MaxUtterance:   10 * time.Second,
		Silence:        500 * time.Millisecond,
		Tick:           100 * time.Millisecond,
		Language:       "en",
		RequestTimeout: 20 * time.Second,
	}
}

// Capture accumulates inbound mu-law audio for one call and hands finished
// utterances to the Recognizer, one request at a time.
type Capture struct {
	rec          Recognizer
	sess         *session.CallSession
	onTranscript func(string)
	opts         Options
	now          func() time.Time

	mu         sync.Mutex
	buf        []byte
	voiced     bool
	lastAudio  time.Time
	processing bool
	epoch      uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCapture wires a capture buffer. onTranscript runs on the transcription
// goroutine and should hand work off rather than block.
func NewCapture(rec Recognizer, sess *session.CallSession, onTranscript func(string), opts Options) *Capture {
	def := DefaultOptions()
	if opts.MinUtterance <= 0 {
		opts.MinUtterance = def.MinUtterance
	}
	if opts.MaxUtterance <= 0 {
		opts.MaxUtterance = def.MaxUtterance
	}
	if opts.Silence <= 0 {
		opts.Silence = def.Silence
	}
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	return &Capture{
		rec:          rec,
		sess:         sess,
		onTranscript: onTranscript,
		opts:         opts,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the silence monitor.
func (c *Capture) Start() {
	go func() {
		ticker := time.NewTicker(c.opts.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.check()
			}
		}
	}()
}

// AddChunk appends one inbound mu-law frame. Audio is never dropped, including
// while a previous utterance is being transcribed.
func (c *Capture) AddChunk(mulaw []byte) {
	if len(mulaw) == 0 {
		return
	}
	voice := c.opts.VoiceMinRMS <= 0 || audio.MulawRMS(mulaw) >= c.opts.VoiceMinRMS

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, mulaw...)
	if voice {
		c.voiced = true
		c.lastAudio = c.now()
	}
	if !c.processing && audio.MulawDuration(len(c.buf)) >= c.opts.MaxUtterance {
		c.flushOrDropLocked()
	}
}

func (c *Capture) check() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing || len(c.buf) == 0 {
		return
	}
	buffered := audio.MulawDuration(len(c.buf))
	if buffered >= c.opts.MaxUtterance {
		c.flushOrDropLocked()
		return
	}
	if buffered < c.opts.MinUtterance || c.now().Sub(c.lastAudio) < c.opts.Silence {
		return
	}
	c.flushOrDropLocked()
}

func (c *Capture) flushOrDropLocked() {
	if !c.voiced {
		// only line noise since the last flush
		c.buf = nil
		return
	}
	c.flushLocked()
}

func (c *Capture) flushLocked() {
	data := c.buf
	c.buf = nil
	c.voiced = false
	c.processing = true
	epoch := c.epoch
	go c.transcribe(epoch, data)
}

func (c *Capture) transcribe(epoch uint64, mulaw []byte) {
	defer func() {
		c.mu.Lock()
		if c.epoch == epoch {
			c.processing = false
		}
		c.mu.Unlock()
	}()

	wav := audio.WrapPCMAsWAV(audio.DecodeMulaw(mulaw), audio.SampleRate, 1, 16)
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()

	started := time.Now()
	text, err := c.rec.Transcribe(ctx, wav, c.opts.Language)
	c.opts.Metrics.RecordTranscription(err == nil, time.Since(started))

	if !c.current(epoch) {
		return
	}
	if err != nil {
		log.Printf("[%s] asr error: %v", c.sess.CallSid, err)
		c.sess.AppendLog(session.SourceSystem, "ASR Error: "+err.Error())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.sess.AppendLog(session.SourceUser, text)
	if c.onTranscript != nil {
		c.onTranscript(text)
	}
}

func (c *Capture) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// Processing reports whether a transcription request is in flight.
func (c *Capture) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Buffered reports the duration of audio waiting for the next flush.
func (c *Capture) Buffered() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return audio.MulawDuration(len(c.buf))
}

// Reset drops buffered audio and abandons any in-flight transcription.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
	c.voiced = false
	c.processing = false
	c.lastAudio = time.Time{}
	c.epoch++
}

// Stop resets the buffer and stops the silence monitor. Safe to call more than once.
func (c *Capture) Stop() {
	c.Reset()
	c.stopOnce.Do(func() { close(c.stopCh) })
}
