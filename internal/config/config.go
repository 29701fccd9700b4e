package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	PublicHost  string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioCallerID    string
	TwilioValidateSig bool
	TwilioStreamVerb  string

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string

	TTSProvider       string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
	DeepgramKey       string
	DeepgramModel     string
	TTSMaxReconnects  int

	ASRKey          string
	ASRBaseURL      string
	ASRModel        string
	ASRLanguage     string
	ASRMinUtterance time.Duration
	ASRMaxUtterance time.Duration
	ASRSilence      time.Duration
	ASRVoiceMinRMS  float64

	BargeInMinRMS   float64
	MaxCallDuration time.Duration
	CleanupDelay    time.Duration

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string
}

const DefaultVoiceID = "Rachel"

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded")
	}

	port := getenv("PORT", "8080")
	cfg := Config{
		HTTPAddress: ":" + strings.TrimPrefix(port, ":"),
		PublicHost:  strings.TrimRight(os.Getenv("PUBLIC_HOST"), "/"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioCallerID:    os.Getenv("TWILIO_CALLER_ID"),
		TwilioValidateSig: getbool("TWILIO_VALIDATE_SIGNATURE", true),
		TwilioStreamVerb:  strings.ToLower(getenv("TWILIO_STREAM_VERB", "start")),

		LLMProvider: strings.ToLower(getenv("LLM_PROVIDER", "venice")),
		LLMModel:    os.Getenv("LLM_MODEL"),
		LLMBaseURL:  os.Getenv("LLM_BASE_URL"),

		TTSProvider:       strings.ToLower(getenv("TTS_PROVIDER", "elevenlabs")),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: getenv("ELEVENLABS_VOICE_ID", DefaultVoiceID),
		ElevenLabsModelID: getenv("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getenv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		TTSMaxReconnects:  getint("TTS_MAX_RECONNECTS", 3),

		ASRKey:          getenv("ASR_API_KEY", os.Getenv("OPENAI_API_KEY")),
		ASRBaseURL:      getenv("ASR_BASE_URL", "https://api.openai.com/v1"),
		ASRModel:        getenv("ASR_MODEL", "whisper-1"),
		ASRLanguage:     getenv("ASR_LANGUAGE", "en"),
		ASRMinUtterance: time.Duration(getint("ASR_MIN_UTTERANCE_MS", 1000)) * time.Millisecond,
		ASRMaxUtterance: time.Duration(getint("ASR_MAX_UTTERANCE_MS", 10000)) * time.Millisecond,
		ASRSilence:      time.Duration(getint("ASR_SILENCE_MS", 500)) * time.Millisecond,
		ASRVoiceMinRMS:  getfloat("ASR_VOICE_MIN_RMS", 0),

		BargeInMinRMS:   getfloat("BARGE_IN_MIN_RMS", 0),
		MaxCallDuration: time.Duration(getint("MAX_CALL_SECONDS", 240)) * time.Second,
		CleanupDelay:    time.Duration(getint("SESSION_CLEANUP_SECONDS", 30)) * time.Second,

		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket: getenv("SUPABASE_BUCKET", "call-transcripts"),
	}
	cfg.LLMAPIKey = os.Getenv(llmKeyVar(cfg.LLMProvider))

	if cfg.LLMAPIKey == "" {
		log.Printf("Warning: %s not set - LLM will not work", llmKeyVar(cfg.LLMProvider))
	}
	switch cfg.TTSProvider {
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - TTS will not work")
		}
	default:
		if cfg.ElevenLabsKey == "" {
			log.Println("Warning: ELEVENLABS_API_KEY not set - TTS will not work")
		}
	}
	if cfg.ASRKey == "" {
		log.Println("Warning: ASR_API_KEY not set - transcription will not work")
	}
	if !cfg.ArchiveEnabled() {
		log.Println("Warning: SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - transcripts will not be archived")
	}

	log.Printf("config: address=%s llm=%s tts=%s", cfg.HTTPAddress, cfg.LLMProvider, cfg.TTSProvider)
	return cfg
}

// Validate reports configuration the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.PublicHost == "" {
		errs = append(errs, errors.New("PUBLIC_HOST is required"))
	}
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required"))
	}
	switch c.LLMProvider {
	case "venice", "cerebras", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.TTSProvider {
	case "elevenlabs", "deepgram":
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider))
	}
	switch c.TwilioStreamVerb {
	case "start", "connect":
	default:
		errs = append(errs, fmt.Errorf("unknown TWILIO_STREAM_VERB %q", c.TwilioStreamVerb))
	}
	return errors.Join(errs...)
}

// ArchiveEnabled reports whether transcripts can be uploaded to Supabase.
func (c Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

func llmKeyVar(provider string) string {
	switch provider {
	case "cerebras":
		return "CEREBRAS_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return "VENICE_API_KEY"
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %d", key, v, def)
		return def
	}
	return n
}

func getfloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

func getbool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a boolean, using %t", key, v, def)
		return def
	}
	return b
}
