package media

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadiek/prankcall/internal/agent"
	"github.com/chadiek/prankcall/internal/barge"
	"github.com/chadiek/prankcall/internal/session"
	"github.com/chadiek/prankcall/internal/transcript"
)

// call binds one media stream to its per-call pipeline.
type call struct {
	id   string
	h    *Handler
	conn *websocket.Conn
	sess *session.CallSession

	writeMu   sync.Mutex
	mu        sync.Mutex
	streamSid string

	tts     Synthesizer
	script  *agent.Script
	conv    *agent.Conversation
	capture *transcript.Capture
	bargeIn *barge.Detector

	teardownOnce sync.Once
}

func newCall(h *Handler, conn *websocket.Conn, sess *session.CallSession) *call {
	c := &call{
		id:      uuid.NewString(),
		h:       h,
		conn:    conn,
		sess:    sess,
		bargeIn: barge.NewDetector(h.opts.BargeInMinRMS, 0),
	}
	c.tts = h.newSynth(sess, c)
	c.script = agent.NewScript(sess, c.tts, h.opts.MaxCallDuration)
	c.conv = agent.NewConversation(sess, h.completer, c.tts, c.script, h.metrics)
	conv := c.conv
	c.capture = transcript.NewCapture(h.recognizer, sess, func(text string) {
		go conv.HandleUserText(text)
	}, h.opts.Capture)
	return c
}

func (c *call) run() {
	log.Printf("[%s] media stream %s attached", c.sess.CallSid, c.id)
	c.sess.AppendLog(session.SourceSystem, "WebSocket media server connected.")
	c.h.metrics.StreamAttached()
	c.tts.Connect()
	c.capture.Start()
	defer c.teardown("connection closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] media stream read error: %v", c.sess.CallSid, err)
			}
			return
		}
		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[%s] skipping malformed frame: %v", c.sess.CallSid, err)
			continue
		}
		if done := c.handleFrame(f); done {
			return
		}
	}
}

// handleFrame reports whether the stream has ended.
func (c *call) handleFrame(f inboundFrame) bool {
	switch f.Event {
	case "connected":
		log.Printf("[%s] media stream connected", c.sess.CallSid)
	case "start":
		sid := f.StreamSid
		if f.Start != nil && f.Start.StreamSid != "" {
			sid = f.Start.StreamSid
		}
		c.mu.Lock()
		c.streamSid = sid
		c.mu.Unlock()
		log.Printf("[%s] media stream started: %s", c.sess.CallSid, sid)
		c.script.Start()
		go c.conv.StartConversation()
	case "media":
		if f.Media == nil || (f.Media.Track != "" && f.Media.Track != "inbound") {
			return false
		}
		chunk, err := base64.StdEncoding.DecodeString(f.Media.Payload)
		if err != nil {
			log.Printf("[%s] skipping media frame: %v", c.sess.CallSid, err)
			return false
		}
		c.handleInbound(chunk)
	case "mark":
		if f.Mark != nil {
			log.Printf("[%s] mark %q", c.sess.CallSid, f.Mark.Name)
		}
	case "stop":
		log.Printf("[%s] media stream stopped", c.sess.CallSid)
		c.teardown("stream stopped")
		return true
	default:
		log.Printf("[%s] unhandled event %q", c.sess.CallSid, f.Event)
	}
	return false
}

func (c *call) handleInbound(chunk []byte) {
	// the detector sees every frame so its smoothing window stays current
	speech := c.bargeIn.Speech(chunk)
	if speech && c.tts.IsPlaying() {
		log.Printf("[%s] barge-in", c.sess.CallSid)
		c.conv.Interrupt()
		c.tts.Interrupt()
		c.h.metrics.RecordBargeIn()
		if err := c.sendClear(); err != nil {
			log.Printf("[%s] clear failed: %v", c.sess.CallSid, err)
		}
	}
	c.capture.AddChunk(chunk)
}

// SendAudio writes agent audio to the caller as one media frame.
func (c *call) SendAudio(mulaw []byte) error {
	if len(mulaw) == 0 {
		return nil
	}
	return c.write(outboundFrame{
		Event:     "media",
		StreamSid: c.currentStreamSid(),
		Media:     &mediaInfo{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// sendClear asks Twilio to drop audio it has buffered but not yet played.
func (c *call) sendClear() error {
	sid := c.currentStreamSid()
	if sid == "" {
		return nil
	}
	return c.write(outboundFrame{Event: "clear", StreamSid: sid})
}

func (c *call) currentStreamSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSid
}

var errStreamClosed = errors.New("media stream closed")

func (c *call) write(f outboundFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errStreamClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(f)
}

// teardown stops the call's pipeline and schedules removal of its session.
func (c *call) teardown(reason string) {
	c.teardownOnce.Do(func() {
		log.Printf("[%s] tearing down media stream %s: %s", c.sess.CallSid, c.id, reason)
		c.script.Stop()
		c.conv.StopConversation()
		c.tts.Stop()
		c.capture.Stop()
		c.h.metrics.StreamDetached()

		c.writeMu.Lock()
		_ = c.conn.Close()
		c.conn = nil
		c.writeMu.Unlock()

		delay := c.h.opts.CleanupDelay
		sess := c.sess
		time.AfterFunc(delay, func() { c.h.archive(sess) })
		c.h.registry.DeleteAfter(sess.CallSid, delay)
	})
}
