package tts

import (
	"context"
	"fmt"
	"log"
	"sync"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

// DeepgramDialer opens Deepgram speak websocket sessions emitting 8kHz mu-law.
type DeepgramDialer struct {
	APIKey string
	Model  string
}

var deepgramInit sync.Once

func NewDeepgramDialer(apiKey, model string) *DeepgramDialer {
	deepgramInit.Do(speak.InitWithDefault)
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramDialer{APIKey: apiKey, Model: model}
}

func (d *DeepgramDialer) PCMRate() int { return 0 }

func (d *DeepgramDialer) Dial(ctx context.Context, ev Events) (Conn, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.Model,
		Encoding:   "mulaw",
		SampleRate: 8000,
	}
	cb := &speakCallback{ev: ev}

	// the SDK keeps this context for the life of the socket, so it must not
	// be the caller's dial deadline
	connCtx, cancel := context.WithCancel(context.Background())
	dg, err := speak.NewWSUsingCallback(connCtx, d.APIKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}

	connected := make(chan bool, 1)
	go func() { connected <- dg.Connect() }()
	select {
	case ok := <-connected:
		if !ok {
			cancel()
			return nil, fmt.Errorf("deepgram: connect failed")
		}
	case <-ctx.Done():
		cancel()
		go func() {
			if <-connected {
				dg.Stop()
			}
		}()
		return nil, fmt.Errorf("deepgram: connect: %w", ctx.Err())
	}
	return &deepgramConn{dg: dg, cancel: cancel}, nil
}

type deepgramConn struct {
	dg     *speak.WSCallback
	cancel context.CancelFunc
}

func (c *deepgramConn) SendText(text string) error { return c.dg.SpeakWithText(text) }
func (c *deepgramConn) Flush() error               { return c.dg.Flush() }
func (c *deepgramConn) Persistent() bool           { return true }
func (c *deepgramConn) Close() error {
	c.dg.Stop()
	c.cancel()
	return nil
}

type speakCallback struct{ ev Events }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	s.ev.Final()
	return nil
}
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error {
	s.ev.Closed(nil)
	return nil
}
func (s *speakCallback) Warning(w *msginterfaces.WarningResponse) error {
	log.Printf("deepgram: warning: %+v", w)
	return nil
}
func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	log.Printf("deepgram: error: %+v", e)
	return nil
}
func (s *speakCallback) UnhandledEvent([]byte) error { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if len(byMsg) == 0 {
		return nil
	}
	b := make([]byte, len(byMsg))
	copy(b, byMsg)
	s.ev.Audio(b)
	return nil
}
