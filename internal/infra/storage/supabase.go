package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/prankcall/internal/session"
)

// SupabaseStorage archives call transcripts to a Supabase Storage bucket.
type SupabaseStorage struct {
	Bucket string
	upload func(bucket, key string, body io.Reader) error
	now    func() time.Time
}

// NewSupabaseStorage constructs a new Supabase storage client.
func NewSupabaseStorage(baseURL, serviceKey, bucket string) (*SupabaseStorage, error) {
	client, err := supabase.NewClient(baseURL, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStorage{
		Bucket: bucket,
		upload: func(bucket, key string, body io.Reader) error {
			_, err := client.Storage.UploadFile(bucket, key, body)
			return err
		},
		now: time.Now,
	}, nil
}

type transcript struct {
	CallSid    string             `json:"callSid"`
	ArchivedAt time.Time          `json:"archivedAt"`
	Entries    []session.LogEntry `json:"entries"`
}

// ObjectKey is where a call's transcript lands in the bucket.
func ObjectKey(callSid string) string {
	return callSid + ".json"
}

// Archive uploads the call log as <callSid>.json.
func (s *SupabaseStorage) Archive(ctx context.Context, callSid string, logs []session.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if logs == nil {
		logs = []session.LogEntry{}
	}
	body, err := json.Marshal(transcript{CallSid: callSid, ArchivedAt: s.now().UTC(), Entries: logs})
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := s.upload(s.Bucket, ObjectKey(callSid), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}
