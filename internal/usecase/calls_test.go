package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/prankcall/internal/session"
)

type fakeOriginator struct {
	sid   string
	err   error
	calls int32
	last  OriginateRequest
}

func (f *fakeOriginator) CreateCall(ctx context.Context, req OriginateRequest) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.last = req
	return f.sid, f.err
}

func newService(orig Originator, verb string) (CallService, *session.Registry) {
	reg := session.NewRegistry()
	svc := NewCallService(reg, orig, CallOptions{
		PublicHost:     "https://prank.example.com/",
		CallerID:       "+15550000000",
		DefaultVoiceID: "Rachel",
		StreamVerb:     verb,
	})
	return svc, reg
}

func TestStartCall_MissingFields(t *testing.T) {
	orig := &fakeOriginator{sid: "CA1"}
	svc, reg := newService(orig, "")
	for _, in := range []StartCallInput{
		{Theme: "t", Outline: "o"},
		{PhoneNumber: "+1555", Outline: "o"},
		{PhoneNumber: "+1555", Theme: "t", Outline: "   "},
	} {
		_, err := svc.StartCall(context.Background(), in)
		assert.ErrorIs(t, err, ErrMissingFields)
	}
	assert.Zero(t, atomic.LoadInt32(&orig.calls))
	assert.Zero(t, reg.Len())
}

func TestStartCall_RegistersSession(t *testing.T) {
	orig := &fakeOriginator{sid: "CA123"}
	svc, reg := newService(orig, "")

	sid, err := svc.StartCall(context.Background(), StartCallInput{
		PhoneNumber: "+15551234567",
		Theme:       "Confused Pizza Delivery",
		Outline:     "1. Hi\n2. Bye",
	})
	require.NoError(t, err)
	assert.Equal(t, "CA123", sid)

	assert.Equal(t, "+15551234567", orig.last.To)
	assert.Equal(t, "+15550000000", orig.last.From)
	assert.Equal(t, "https://prank.example.com/twilio/voice", orig.last.VoiceURL)
	assert.Equal(t, "https://prank.example.com/twilio/voice/status", orig.last.StatusCallbackURL)

	sess, err := reg.Get("CA123")
	require.NoError(t, err)
	assert.Equal(t, "Rachel", sess.VoiceID)
	logs := sess.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, session.SourceSystem, logs[0].Source)
	assert.Equal(t, "Call initiated to +15551234567. SID: CA123", logs[0].Text)
}

func TestStartCall_RequestOverrides(t *testing.T) {
	orig := &fakeOriginator{sid: "CA9"}
	svc, reg := newService(orig, "")
	_, err := svc.StartCall(context.Background(), StartCallInput{
		PhoneNumber: "+1555", Theme: "t", Outline: "o", VoiceID: "Bella", CallerID: "+1666",
	})
	require.NoError(t, err)
	assert.Equal(t, "+1666", orig.last.From)
	sess, err := reg.Get("CA9")
	require.NoError(t, err)
	assert.Equal(t, "Bella", sess.VoiceID)
}

func TestStartCall_OriginationFailure(t *testing.T) {
	orig := &fakeOriginator{err: errors.New("invalid number")}
	svc, reg := newService(orig, "")
	_, err := svc.StartCall(context.Background(), StartCallInput{PhoneNumber: "+1", Theme: "t", Outline: "o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid number")
	assert.Zero(t, reg.Len())
}

func TestLogs(t *testing.T) {
	svc, reg := newService(&fakeOriginator{}, "")
	_, err := svc.Logs("CAnope")
	assert.ErrorIs(t, err, session.ErrNotFound)

	sess := session.New("CA1", "t", "o", "")
	sess.AppendLog(session.SourceSystem, "one")
	sess.AppendLog(session.SourceUser, "two")
	reg.Set(sess)
	logs, err := svc.Logs("CA1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "one", logs[0].Text)
	assert.Equal(t, "two", logs[1].Text)
}

func TestVoiceTwiML_StartStream(t *testing.T) {
	svc, reg := newService(&fakeOriginator{}, "start")
	reg.Set(session.New("CA1", "t", "o", ""))

	doc, err := svc.VoiceTwiML("CA1")
	require.NoError(t, err)
	assert.Contains(t, doc, "<Response>")
	assert.Contains(t, doc, "<Start>")
	assert.Contains(t, doc, `name="RealtimeAudioStream"`)
	assert.Contains(t, doc, `url="wss://prank.example.com/ws/media?callSid=CA1"`)
	assert.Contains(t, doc, `<Pause length="1"`)
	assert.NotContains(t, doc, "<Connect>")

	logs, err := svc.Logs("CA1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Call connected. Starting media stream...", logs[0].Text)
}

func TestVoiceTwiML_ConnectStream(t *testing.T) {
	svc, _ := newService(&fakeOriginator{}, "connect")
	doc, err := svc.VoiceTwiML("CA2")
	require.NoError(t, err)
	assert.Contains(t, doc, "<Connect>")
	assert.NotContains(t, doc, "<Start>")
}

func TestCallStatus(t *testing.T) {
	svc, reg := newService(&fakeOriginator{}, "")
	sess := session.New("CA1", "t", "o", "")
	reg.Set(sess)

	svc.CallStatus("CA1", "ringing")
	assert.Empty(t, sess.Logs())
	svc.CallStatus("CA1", "completed")
	logs := sess.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Call ended.", logs[0].Text)

	// unknown calls are ignored
	svc.CallStatus("CAnope", "completed")
}

func TestBuildAbsoluteURL(t *testing.T) {
	svc, _ := newService(&fakeOriginator{}, "")
	assert.Equal(t, "https://prank.example.com/x", svc.BuildAbsoluteURL("x"))
	assert.Equal(t, "https://prank.example.com/twilio/voice", svc.BuildAbsoluteURL("/twilio/voice"))
}
