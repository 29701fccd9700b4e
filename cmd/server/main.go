package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/prankcall/internal/config"
	httpserver "github.com/chadiek/prankcall/internal/httpserver"
	"github.com/chadiek/prankcall/internal/infra/storage"
	"github.com/chadiek/prankcall/internal/infra/twilio"
	"github.com/chadiek/prankcall/internal/llm"
	"github.com/chadiek/prankcall/internal/media"
	"github.com/chadiek/prankcall/internal/metrics"
	"github.com/chadiek/prankcall/internal/session"
	"github.com/chadiek/prankcall/internal/transcript"
	"github.com/chadiek/prankcall/internal/tts"
	"github.com/chadiek/prankcall/internal/usecase"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	m := metrics.New()
	registry := session.NewRegistry()

	provider, err := llm.ProviderByName(cfg.LLMProvider)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	completer := llm.NewChatClient(provider, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	recognizer := transcript.NewWhisperClient(cfg.ASRKey, cfg.ASRBaseURL, cfg.ASRModel)

	mediaHandler := media.NewHandler(registry, recognizer, completer, synthesizerFactory(cfg, m), media.Options{
		MaxCallDuration: cfg.MaxCallDuration,
		CleanupDelay:    cfg.CleanupDelay,
		BargeInMinRMS:   cfg.BargeInMinRMS,
		Capture: transcript.Options{
			MinUtterance: cfg.ASRMinUtterance,
			MaxUtterance: cfg.ASRMaxUtterance,
			Silence:      cfg.ASRSilence,
			Language:     cfg.ASRLanguage,
			VoiceMinRMS:  cfg.ASRVoiceMinRMS,
		},
	}).WithMetrics(m)
	if cfg.ArchiveEnabled() {
		store, err := storage.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
		if err != nil {
			log.Printf("transcript archive disabled: %v", err)
		} else {
			mediaHandler.WithArchiver(store)
		}
	}

	calls := usecase.NewCallService(registry, twilio.NewCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken), usecase.CallOptions{
		PublicHost:     cfg.PublicHost,
		CallerID:       cfg.TwilioCallerID,
		DefaultVoiceID: cfg.ElevenLabsVoiceID,
		StreamVerb:     cfg.TwilioStreamVerb,
		Metrics:        m,
	})

	srv := httpserver.New(httpserver.Deps{
		Calls:             calls,
		Media:             mediaHandler,
		Metrics:           m,
		PublicHost:        cfg.PublicHost,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		ValidateSignature: cfg.TwilioValidateSig,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s (public host %s)", cfg.HTTPAddress, cfg.PublicHost)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// synthesizerFactory picks the TTS backend once; each call gets its own stream,
// voiced by the call's requested voice when the backend supports one.
func synthesizerFactory(cfg config.Config, m *metrics.Metrics) media.SynthesizerFactory {
	opts := tts.Options{MaxReconnects: cfg.TTSMaxReconnects, Metrics: m}
	return func(sess *session.CallSession, sink tts.AudioSink) media.Synthesizer {
		var dialer tts.Dialer
		switch cfg.TTSProvider {
		case "deepgram":
			dialer = tts.NewDeepgramDialer(cfg.DeepgramKey, cfg.DeepgramModel)
		default:
			voice := sess.VoiceID
			if voice == "" {
				voice = cfg.ElevenLabsVoiceID
			}
			dialer = tts.NewElevenLabsDialer(cfg.ElevenLabsKey, voice, cfg.ElevenLabsModelID)
		}
		return tts.NewStream(dialer, sink, sess, opts)
	}
}
