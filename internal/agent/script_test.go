package agent

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chadiek/prankcall/internal/session"
)

type fakeTTS struct {
	mu      sync.Mutex
	calls   []string
	playing int32
}

func (f *fakeTTS) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeTTS) SendText(text string) { f.record("text:" + text) }
func (f *fakeTTS) Flush()               { f.record("flush") }
func (f *fakeTTS) Interrupt()           { f.record("interrupt"); atomic.StoreInt32(&f.playing, 0) }
func (f *fakeTTS) IsPlaying() bool      { return atomic.LoadInt32(&f.playing) == 1 }

func (f *fakeTTS) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newScript(outline string, max time.Duration) (*Script, *fakeTTS, *session.CallSession) {
	sess := session.New("CA1", "theme", outline, "")
	tts := &fakeTTS{}
	return NewScript(sess, tts, max), tts, sess
}

func TestParseBeats(t *testing.T) {
	got := ParseBeats("1. Hi there\n2. Wait, really?\n3. Never mind, bye")
	want := []string{"Hi there", "Wait, really?", "Never mind, bye"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	got = ParseBeats("\n  10.   Ten  \n\n plain line \r\n")
	if len(got) != 2 || got[0] != "Ten" || got[1] != "plain line" {
		t.Fatalf("unexpected beats %q", got)
	}
	if len(ParseBeats("")) != 0 {
		t.Fatalf("expected no beats for empty outline")
	}
}

func TestScript_FirstBeatSpokenLaterBeatsHandedOff(t *testing.T) {
	s, tts, sess := newScript("1. Hello!\n2. Ask about pizza\n3. Bye", time.Minute)
	var handed []string
	s.OnBeat(func(b string) { handed = append(handed, b) })

	s.SendNextBeat()
	calls := tts.log()
	if len(calls) != 2 || calls[0] != "text:Hello!" || calls[1] != "flush" {
		t.Fatalf("expected opening line spoken, got %v", calls)
	}
	logs := sess.Logs()
	if len(logs) != 2 || logs[0].Text != "(Advancing to beat 1: Hello!)" || logs[1].Source != session.SourceAgent {
		t.Fatalf("unexpected logs %+v", logs)
	}

	s.SendNextBeat()
	if len(tts.log()) != 2 {
		t.Fatalf("expected later beats not to be spoken")
	}
	if len(handed) != 1 || handed[0] != "Ask about pizza" {
		t.Fatalf("expected beat handed off, got %v", handed)
	}
	if st := sess.Script(); st == nil || st.CurrentBeatIndex != 2 {
		t.Fatalf("expected session script index 2, got %+v", st)
	}
}

func TestScript_IndexMonotonicAndBounded(t *testing.T) {
	s, _, _ := newScript("a\nb", time.Minute)
	prev := 0
	for i := 0; i < 5; i++ {
		s.SendNextBeat()
		cur := s.CurrentBeat()
		if cur < prev || cur > 2 {
			t.Fatalf("index out of order or bounds: %d after %d", cur, prev)
		}
		prev = cur
	}
	if prev != 2 {
		t.Fatalf("expected outline exhausted, got %d", prev)
	}
}

func TestScript_HoldsWhileAgentSpeaking(t *testing.T) {
	s, tts, _ := newScript("a\nb", time.Minute)
	atomic.StoreInt32(&tts.playing, 1)
	s.SendNextBeat()
	if s.CurrentBeat() != 0 {
		t.Fatalf("expected no advance while playing")
	}
	atomic.StoreInt32(&tts.playing, 0)
	s.SendNextBeat()
	if s.CurrentBeat() != 1 {
		t.Fatalf("expected advance once quiet")
	}
}

func TestScript_TimeLimitStopsExactlyOnce(t *testing.T) {
	s, tts, sess := newScript("a\nb\nc", 240*time.Second)
	base := time.Now()
	clock := base
	s.now = func() time.Time { return clock }
	s.start = base

	s.SendNextBeat()
	clock = base.Add(241 * time.Second)
	s.SendNextBeat()
	s.SendNextBeat()

	if s.CurrentBeat() != 1 {
		t.Fatalf("expected no beat after the limit, got %d", s.CurrentBeat())
	}
	var closing int
	for _, e := range sess.Logs() {
		if e.Text == TimeLimitMessage {
			closing++
		}
	}
	if closing != 1 {
		t.Fatalf("expected one closing line, got %d", closing)
	}
	calls := tts.log()
	if calls[len(calls)-3] != "interrupt" || calls[len(calls)-2] != "text:"+TimeLimitMessage || calls[len(calls)-1] != "flush" {
		t.Fatalf("unexpected tts calls %v", calls)
	}
}

func TestScript_TimerEnforcesLimit(t *testing.T) {
	s, _, sess := newScript("a", 30*time.Millisecond)
	var hooked int32
	s.OnStop(func() { atomic.AddInt32(&hooked, 1) })
	s.Start()
	defer s.Stop()
	closed := func() bool {
		logs := sess.Logs()
		return len(logs) > 0 && logs[len(logs)-1].Text == TimeLimitMessage
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !closed() {
		time.Sleep(5 * time.Millisecond)
	}
	if !closed() {
		t.Fatalf("expected closing line, got %+v", sess.Logs())
	}
	if !s.Stopped() || atomic.LoadInt32(&hooked) != 1 {
		t.Fatalf("expected the timer to stop the call")
	}
}

func TestScript_StopCancelsTimer(t *testing.T) {
	s, _, _ := newScript("a", 20*time.Millisecond)
	s.Start()
	s.Stop()
	time.Sleep(50 * time.Millisecond)
	if s.Stopped() {
		t.Fatalf("expected cancelled timer not to fire")
	}
}

func TestScript_IsStopWord(t *testing.T) {
	s, _, _ := newScript("", time.Minute)
	yes := []string{"please STOP calling me", "I'm not interested", "Do Not Call again", "wrong number pal", "remove me from your list"}
	for _, txt := range yes {
		if !s.IsStopWord(txt) {
			t.Fatalf("expected stop word in %q", txt)
		}
	}
	if s.IsStopWord("tell me more about the pizza") {
		t.Fatalf("expected no stop word")
	}
}

func TestScript_SendStopDefaultAndOnce(t *testing.T) {
	s, tts, sess := newScript("a\nb", time.Minute)
	s.SendStop("")
	s.SendStop("again")
	s.SendNextBeat()

	calls := tts.log()
	if len(calls) != 3 || calls[0] != "interrupt" || calls[1] != "text:"+DefaultStopMessage || calls[2] != "flush" {
		t.Fatalf("unexpected tts calls %v", calls)
	}
	logs := sess.Logs()
	if len(logs) != 1 || logs[0].Source != session.SourceAgent || logs[0].Text != DefaultStopMessage {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if s.CurrentBeat() != 0 {
		t.Fatalf("expected no beats after stop")
	}
}
