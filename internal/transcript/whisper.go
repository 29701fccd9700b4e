package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultWhisperBaseURL = "https://api.openai.com/v1"
	defaultWhisperModel   = "whisper-1"
)

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("empty audio")

// WhisperClient transcribes WAV audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

func NewWhisperClient(apiKey, baseURL, model string) *WhisperClient {
	if baseURL == "" {
		baseURL = defaultWhisperBaseURL
	}
	if model == "" {
		model = defaultWhisperModel
	}
	return &WhisperClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
	}
}

type whisperResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads one WAV utterance and returns the recognized text.
// Silence yields an empty string and no error.
func (c *WhisperClient) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("whisper api key missing")
	}
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	_ = w.WriteField("model", c.Model)
	if language != "" {
		_ = w.WriteField("language", language)
	}
	_ = w.WriteField("response_format", "json")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	return strings.TrimSpace(wr.Text), nil
}
