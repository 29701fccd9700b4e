package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "PUBLIC_HOST", "LLM_PROVIDER", "TTS_PROVIDER", "ELEVENLABS_VOICE_ID", "MAX_CALL_SECONDS", "SESSION_CLEANUP_SECONDS", "ASR_API_KEY", "OPENAI_API_KEY", "TWILIO_VALIDATE_SIGNATURE", "TWILIO_STREAM_VERB"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("expected default address :8080, got %q", cfg.HTTPAddress)
	}
	if cfg.LLMProvider != "venice" || cfg.TTSProvider != "elevenlabs" {
		t.Fatalf("expected default providers, got %s/%s", cfg.LLMProvider, cfg.TTSProvider)
	}
	if cfg.ElevenLabsVoiceID != "Rachel" {
		t.Fatalf("expected default voice Rachel, got %q", cfg.ElevenLabsVoiceID)
	}
	if cfg.MaxCallDuration != 240*time.Second || cfg.CleanupDelay != 30*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.MaxCallDuration, cfg.CleanupDelay)
	}
	if cfg.ASRMinUtterance != time.Second || cfg.ASRMaxUtterance != 10*time.Second || cfg.ASRSilence != 500*time.Millisecond {
		t.Fatalf("unexpected capture thresholds %+v", cfg)
	}
	if !cfg.TwilioValidateSig || cfg.TwilioStreamVerb != "start" {
		t.Fatalf("expected signature checks and <Start> streams by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PUBLIC_HOST", "https://example.ngrok.app/")
	t.Setenv("LLM_PROVIDER", "Cerebras")
	t.Setenv("CEREBRAS_API_KEY", "cb-key")
	t.Setenv("ASR_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "oa-key")
	t.Setenv("BARGE_IN_MIN_RMS", "350.5")
	t.Setenv("SESSION_CLEANUP_SECONDS", "5")
	t.Setenv("TTS_MAX_RECONNECTS", "oops")
	cfg := Load()
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.HTTPAddress)
	}
	if cfg.PublicHost != "https://example.ngrok.app" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PublicHost)
	}
	if cfg.LLMProvider != "cerebras" || cfg.LLMAPIKey != "cb-key" {
		t.Fatalf("expected cerebras key, got %s/%s", cfg.LLMProvider, cfg.LLMAPIKey)
	}
	if cfg.ASRKey != "oa-key" {
		t.Fatalf("expected ASR key to fall back to OPENAI_API_KEY, got %q", cfg.ASRKey)
	}
	if cfg.BargeInMinRMS != 350.5 || cfg.CleanupDelay != 5*time.Second {
		t.Fatalf("unexpected overrides %v %v", cfg.BargeInMinRMS, cfg.CleanupDelay)
	}
	if cfg.TTSMaxReconnects != 3 {
		t.Fatalf("expected bad number to fall back to 3, got %d", cfg.TTSMaxReconnects)
	}
}

func TestValidate(t *testing.T) {
	ok := Config{
		PublicHost:       "https://x.example",
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "tok",
		LLMProvider:      "venice",
		TTSProvider:      "elevenlabs",
		TwilioStreamVerb: "start",
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"public host", func(c *Config) { c.PublicHost = "" }, "PUBLIC_HOST"},
		{"twilio creds", func(c *Config) { c.TwilioAuthToken = "" }, "TWILIO_ACCOUNT_SID"},
		{"llm provider", func(c *Config) { c.LLMProvider = "bard" }, "LLM_PROVIDER"},
		{"tts provider", func(c *Config) { c.TTSProvider = "polly" }, "TTS_PROVIDER"},
		{"stream verb", func(c *Config) { c.TwilioStreamVerb = "dial" }, "TWILIO_STREAM_VERB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ok
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestArchiveEnabled(t *testing.T) {
	if (Config{SupabaseURL: "https://db.example"}).ArchiveEnabled() {
		t.Fatalf("expected archive disabled without a key")
	}
	if !(Config{SupabaseURL: "https://db.example", SupabaseKey: "k"}).ArchiveEnabled() {
		t.Fatalf("expected archive enabled")
	}
}
