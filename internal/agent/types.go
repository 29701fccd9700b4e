package agent

import (
	"context"

	"github.com/chadiek/prankcall/internal/llm"
)

// Synthesizer is the speech output side of a call.
type Synthesizer interface {
	SendText(text string)
	Flush()
	Interrupt()
	IsPlaying() bool
}

// Completer streams an assistant reply for a chat history.
type Completer interface {
	StreamChat(ctx context.Context, messages []llm.Message, onDelta func(string)) (string, error)
}
