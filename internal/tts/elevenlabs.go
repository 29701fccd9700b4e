package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultElevenLabsBase = "wss://api.elevenlabs.io"

// ElevenLabsDialer opens stream-input websocket sessions that return 8kHz mu-law.
type ElevenLabsDialer struct {
	APIKey  string
	VoiceID string
	ModelID string
	// OutputFormat defaults to ulaw_8000; pcm_<rate> formats are transcoded by the Stream.
	OutputFormat string
	BaseURL      string
}

func NewElevenLabsDialer(apiKey, voiceID, modelID string) *ElevenLabsDialer {
	if modelID == "" {
		modelID = "eleven_turbo_v2_5"
	}
	return &ElevenLabsDialer{APIKey: apiKey, VoiceID: voiceID, ModelID: modelID, OutputFormat: "ulaw_8000"}
}

func (d *ElevenLabsDialer) PCMRate() int {
	if rate, ok := strings.CutPrefix(d.OutputFormat, "pcm_"); ok {
		n, _ := strconv.Atoi(rate)
		return n
	}
	return 0
}

func (d *ElevenLabsDialer) wsURL() (string, error) {
	base := d.BaseURL
	if base == "" {
		base = defaultElevenLabsBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/text-to-speech/" + url.PathEscape(d.VoiceID) + "/stream-input"
	q := u.Query()
	q.Set("model_id", d.ModelID)
	format := d.OutputFormat
	if format == "" {
		format = "ulaw_8000"
	}
	q.Set("output_format", format)
	q.Set("inactivity_timeout", "180")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenInitMessage struct {
	Text          string              `json:"text"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
	APIKey        string              `json:"xi_api_key"`
}

type elevenTextMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type elevenResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (d *ElevenLabsDialer) Dial(ctx context.Context, ev Events) (Conn, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key missing")
	}
	if d.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice id missing")
	}
	wsURL, err := d.wsURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("xi-api-key", d.APIKey)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs dial: %w", err)
	}
	c := &elevenConn{ws: ws, ev: ev}
	if err := c.writeJSON(elevenInitMessage{
		Text:          " ",
		VoiceSettings: elevenVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		APIKey:        d.APIKey,
	}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("elevenlabs init: %w", err)
	}
	go c.readLoop()
	return c, nil
}

type elevenConn struct {
	ws        *websocket.Conn
	ev        Events
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *elevenConn) SendText(text string) error {
	return c.writeJSON(elevenTextMessage{Text: text, TryTriggerGeneration: true})
}

// Flush sends the empty-text end-of-stream marker; the server closes the socket afterwards.
func (c *elevenConn) Flush() error {
	return c.writeJSON(elevenTextMessage{Text: ""})
}

func (c *elevenConn) Persistent() bool { return false }

func (c *elevenConn) Close() error {
	c.closeOnce.Do(func() { _ = c.ws.Close() })
	return nil
}

func (c *elevenConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteJSON(v)
}

func (c *elevenConn) readLoop() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				err = nil
			}
			c.ev.Closed(err)
			return
		}
		if msgType == websocket.BinaryMessage {
			c.ev.Audio(data)
			continue
		}
		var resp elevenResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			log.Printf("elevenlabs: api error: %s %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			b, err := decodeBase64Any(resp.Audio)
			if err != nil {
				log.Printf("elevenlabs: invalid audio payload: %v", err)
			} else {
				c.ev.Audio(b)
			}
		}
		if resp.IsFinal {
			c.ev.Final()
		}
	}
}

func decodeBase64Any(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
