package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
)

var ErrMissingFields = errors.New("missing required fields")

// Originator places outbound calls.
type Originator interface {
	CreateCall(ctx context.Context, req OriginateRequest) (string, error)
}

// OriginateRequest is everything the telephony provider needs to dial out.
type OriginateRequest struct {
	To                string
	From              string
	VoiceURL          string
	StatusCallbackURL string
}

// StartCallInput is the operator's request to place a prank call.
type StartCallInput struct {
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
	Theme       string `json:"theme" form:"theme"`
	Outline     string `json:"outline" form:"outline"`
	VoiceID     string `json:"voiceId" form:"voiceId"`
	CallerID    string `json:"callerId" form:"callerId"`
}

// CallService defines the call operations used by the HTTP layer.
type CallService interface {
	StartCall(ctx context.Context, in StartCallInput) (string, error)
	Logs(callSid string) ([]session.LogEntry, error)
	VoiceTwiML(callSid string) (string, error)
	CallStatus(callSid, status string)
	BuildAbsoluteURL(path string) string
}

type CallOptions struct {
	// PublicHost is the externally reachable base URL, e.g. https://abc.ngrok.app.
	PublicHost     string
	CallerID       string
	DefaultVoiceID string
	// StreamVerb is "start" for a listen-only <Start><Stream> or "connect" for a
	// bidirectional <Connect><Stream>.
	StreamVerb string
	Metrics    *metrics.Metrics
}

type callService struct {
	registry   *session.Registry
	originator Originator
	opts       CallOptions
}

func NewCallService(registry *session.Registry, originator Originator, opts CallOptions) CallService {
	opts.PublicHost = strings.TrimRight(opts.PublicHost, "/")
	if opts.StreamVerb == "" {
		opts.StreamVerb = "start"
	}
	return &callService{registry: registry, originator: originator, opts: opts}
}

// StartCall dials the callee and registers the call's session before any
// media stream can attach to it.
func (s *callService) StartCall(ctx context.Context, in StartCallInput) (string, error) {
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if in.PhoneNumber == "" || strings.TrimSpace(in.Theme) == "" || strings.TrimSpace(in.Outline) == "" {
		return "", ErrMissingFields
	}
	from := in.CallerID
	if from == "" {
		from = s.opts.CallerID
	}
	voiceID := in.VoiceID
	if voiceID == "" {
		voiceID = s.opts.DefaultVoiceID
	}

	sid, err := s.originator.CreateCall(ctx, OriginateRequest{
		To:                in.PhoneNumber,
		From:              from,
		VoiceURL:          s.BuildAbsoluteURL("/twilio/voice"),
		StatusCallbackURL: s.BuildAbsoluteURL("/twilio/voice/status"),
	})
	s.opts.Metrics.RecordCallStarted(err == nil)
	if err != nil {
		return "", fmt.Errorf("create call: %w", err)
	}

	sess := session.New(sid, in.Theme, in.Outline, voiceID)
	sess.AppendLog(session.SourceSystem, fmt.Sprintf("Call initiated to %s. SID: %s", in.PhoneNumber, sid))
	s.registry.Set(sess)
	log.Printf("[%s] call initiated to %s", sid, in.PhoneNumber)
	return sid, nil
}

func (s *callService) Logs(callSid string) ([]session.LogEntry, error) {
	sess, err := s.registry.Get(callSid)
	if err != nil {
		return nil, err
	}
	return sess.Logs(), nil
}

// VoiceTwiML answers Twilio's call-connected webhook with the media stream target.
func (s *callService) VoiceTwiML(callSid string) (string, error) {
	stream := &twiml.VoiceStream{
		Name: "RealtimeAudioStream",
		Url:  s.streamURL(callSid),
	}
	var verbs []twiml.Element
	if s.opts.StreamVerb == "connect" {
		verbs = []twiml.Element{&twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}}
	} else {
		verbs = []twiml.Element{
			&twiml.VoiceStart{InnerElements: []twiml.Element{stream}},
			&twiml.VoicePause{Length: "1"},
		}
	}
	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("build twiml: %w", err)
	}
	if sess, err := s.registry.Get(callSid); err == nil {
		sess.AppendLog(session.SourceSystem, "Call connected. Starting media stream...")
	}
	log.Printf("[%s] call connected, stream %s", callSid, s.streamURL(callSid))
	return doc, nil
}

// CallStatus records the end of a call reported by Twilio's status callback.
func (s *callService) CallStatus(callSid, status string) {
	log.Printf("[%s] call status: %s", callSid, status)
	if status != "completed" {
		return
	}
	if sess, err := s.registry.Get(callSid); err == nil {
		sess.AppendLog(session.SourceSystem, "Call ended.")
	}
}

// BuildAbsoluteURL builds a public absolute URL for callbacks.
func (s *callService) BuildAbsoluteURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.opts.PublicHost + path
}

func (s *callService) streamURL(callSid string) string {
	host := s.opts.PublicHost
	switch {
	case strings.HasPrefix(host, "https://"):
		host = "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		host = "ws://" + strings.TrimPrefix(host, "http://")
	default:
		host = "wss://" + host
	}
	return host + "/ws/media?callSid=" + url.QueryEscape(callSid)
}
