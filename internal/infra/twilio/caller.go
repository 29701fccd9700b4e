package twilio

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/chadiek/prankcall/internal/usecase"
)

// callCreator is the slice of the Twilio REST API we use.
type callCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Caller places outbound calls through Twilio's REST API.
type Caller struct {
	api callCreator
}

func NewCaller(accountSID, authToken string) *Caller {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Caller{api: client.Api}
}

// CreateCall dials req.To; Twilio fetches call instructions from req.VoiceURL
// once the callee answers.
func (c *Caller) CreateCall(ctx context.Context, req usecase.OriginateRequest) (string, error) {
	if req.From == "" {
		return "", errors.New("no caller id: set TWILIO_CALLER_ID or pass callerId")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.VoiceURL)
	params.SetMethod("POST")
	params.SetStatusCallback(req.StatusCallbackURL)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"completed"})

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio create call: empty call sid")
	}
	return *resp.Sid, nil
}
