package agent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/prankcall/internal/llm"
	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
)

const turnTimeout = 30 * time.Second

// Conversation generates the agent's replies for one call.
type Conversation struct {
	sess         *session.CallSession
	llm          Completer
	tts          Synthesizer
	script       *Script
	systemPrompt string
	metrics      *metrics.Metrics

	mu      sync.Mutex
	history []llm.Message
	notes   []string
	turnID  string
	cancel  context.CancelFunc
	stopped bool
}

func NewConversation(sess *session.CallSession, completer Completer, tts Synthesizer, script *Script, m *metrics.Metrics) *Conversation {
	c := &Conversation{
		sess:         sess,
		llm:          completer,
		tts:          tts,
		script:       script,
		systemPrompt: llm.SystemPrompt(sess.Theme, script.Beats()),
		metrics:      m,
	}
	script.OnBeat(c.addBeatNote)
	script.OnStop(c.Interrupt)
	return c
}

// StartConversation speaks the opening beat.
func (c *Conversation) StartConversation() {
	log.Printf("[%s] starting conversation", c.sess.CallSid)
	c.script.SendNextBeat()
}

func (c *Conversation) addBeatNote(beat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, llm.BeatNote(beat))
}

// HandleUserText runs one agent turn for a finished caller utterance. It blocks
// until the reply has been streamed or the turn is superseded.
func (c *Conversation) HandleUserText(text string) {
	text = strings.TrimSpace(text)
	if text == "" || c.script.Stopped() {
		return
	}
	log.Printf("[%s] handling user text: %q", c.sess.CallSid, text)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	turn := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	c.turnID = turn
	c.cancel = cancel
	c.history = append(c.history, llm.Message{Role: "user", Content: text})
	messages := c.messagesLocked()
	c.mu.Unlock()
	defer cancel()

	reply, err := c.llm.StreamChat(ctx, messages, func(delta string) {
		// TTS writes can block on the network; Interrupt must not wait for them
		if c.current(turn) {
			c.tts.SendText(delta)
		}
	})

	c.mu.Lock()
	if c.turnID != turn {
		c.mu.Unlock()
		log.Printf("[%s] turn %s abandoned", c.sess.CallSid, turn)
		c.metrics.RecordLLMTurn("abandoned")
		return
	}
	c.cancel = nil
	c.turnID = ""
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("reply timed out")
		}
		log.Printf("[%s] llm error: %v", c.sess.CallSid, err)
		c.sess.AppendLog(session.SourceSystem, "Error: "+err.Error())
		c.metrics.RecordLLMTurn("error")
		return
	}
	reply = strings.TrimSpace(reply)
	if reply != "" {
		c.history = append(c.history, llm.Message{Role: "assistant", Content: reply})
	}
	c.notes = nil
	c.mu.Unlock()
	c.tts.Flush()

	c.metrics.RecordLLMTurn("ok")
	if reply != "" {
		log.Printf("[%s] full response: %q", c.sess.CallSid, reply)
		c.sess.AppendLog(session.SourceAgent, reply)
	}

	if c.script.IsStopWord(reply) || c.script.IsStopWord(text) {
		c.script.SendStop("")
		return
	}
	c.script.SendNextBeat()
}

func (c *Conversation) current(turn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnID == turn
}

func (c *Conversation) messagesLocked() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.history)+len(c.notes)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: c.systemPrompt})
	msgs = append(msgs, c.history...)
	for _, n := range c.notes {
		msgs = append(msgs, llm.Message{Role: "system", Content: n})
	}
	return msgs
}

// Interrupt abandons the in-flight turn; any later reply fragments are discarded.
func (c *Conversation) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.turnID = ""
}

// StopConversation abandons the current turn and clears the history.
func (c *Conversation) StopConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Printf("[%s] stopping conversation", c.sess.CallSid)
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.turnID = ""
	c.stopped = true
	c.history = nil
	c.notes = nil
}

// History returns a copy of the chat history.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}
