package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/prankcall/internal/session"
)

func TestDeepgram_DialNoKey(t *testing.T) {
	d := NewDeepgramDialer("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := d.Dial(ctx, &recordingEvents{}); err == nil {
		t.Fatalf("expected error when api key missing")
	}
	if d.Model != "aura-2-thalia-en" {
		t.Fatalf("expected default model, got %q", d.Model)
	}
	if d.PCMRate() != 0 {
		t.Fatalf("expected mu-law output")
	}
}

func TestSpeakCallback_ForwardsEvents(t *testing.T) {
	ev := &recordingEvents{}
	cb := &speakCallback{ev: ev}
	src := []byte{1, 2, 3}
	_ = cb.Binary(src)
	src[0] = 9
	_ = cb.Binary(nil)
	_ = cb.Flush(nil)
	_ = cb.Close(nil)

	if atomic.LoadInt32(&ev.audio) != 1 {
		t.Fatalf("expected one audio chunk, got %d", ev.audio)
	}
	if ev.last[0] != 1 {
		t.Fatalf("expected audio to be copied")
	}
	if atomic.LoadInt32(&ev.finals) != 1 || atomic.LoadInt32(&ev.closes) != 1 {
		t.Fatalf("expected final and close to be forwarded")
	}
}

type recordingEvents struct {
	audio, finals, closes int32
	last                  []byte
}

func (r *recordingEvents) Audio(b []byte)   { atomic.AddInt32(&r.audio, 1); r.last = b }
func (r *recordingEvents) Final()           { atomic.AddInt32(&r.finals, 1) }
func (r *recordingEvents) Closed(err error) { atomic.AddInt32(&r.closes, 1) }

// fakeSpeakServer answers Deepgram speak frames: audio plus Flushed on every Flush.
type fakeSpeakServer struct {
	conns int32
	mu    sync.Mutex
	texts []string
}

func (f *fakeSpeakServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.conns, 1)
	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "Speak":
			f.mu.Lock()
			f.texts = append(f.texts, msg.Text)
			f.mu.Unlock()
		case "Flush":
			_ = ws.WriteMessage(websocket.BinaryMessage, []byte{0x7f, 0x7e, 0x7d})
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"Flushed","sequence_id":0}`))
		}
	}
}

func (f *fakeSpeakServer) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestDeepgram_StreamSpeaksThroughLiveConnection(t *testing.T) {
	backend := &fakeSpeakServer{}
	srv := httptest.NewServer(backend)
	defer srv.Close()
	t.Setenv("DEEPGRAM_HOST", "ws://"+strings.TrimPrefix(srv.URL, "http://"))

	sink := &fakeSink{}
	sess := session.New("CA1", "", "", "")
	s := NewStream(NewDeepgramDialer("test-key", ""), sink, sess, Options{DialTimeout: 50 * time.Millisecond})
	defer s.Stop()
	s.Connect()
	waitFor(t, func() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.connected })

	// the connection must outlive the dial deadline
	time.Sleep(100 * time.Millisecond)
	s.SendText("hello there")
	s.Flush()

	waitFor(t, func() bool { return sink.count() == 1 })
	waitFor(t, func() bool { return !s.IsPlaying() })
	if texts := backend.received(); len(texts) != 1 || texts[0] != "hello there" {
		t.Fatalf("expected text to reach the backend, got %v", texts)
	}
	if n := atomic.LoadInt32(&backend.conns); n != 1 {
		t.Fatalf("expected a single connection, got %d", n)
	}
	if len(sess.Logs()) != 0 {
		t.Fatalf("expected no errors, got %+v", sess.Logs())
	}
}
