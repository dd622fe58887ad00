package ai

import (
	"context"
)

// EventType is the kind of an event emitted by a generation backend.
type EventType string

const (
	// EventMessageStart assigns the message id and the conversation handle.
	EventMessageStart EventType = "message_start"
	// EventTextChunk carries the next piece of answer text.
	EventTextChunk EventType = "text_chunk"
	// EventMessageReplace replaces the whole answer text emitted so far.
	EventMessageReplace EventType = "message_replace"
	// EventMessageEnd terminates a successful stream.
	EventMessageEnd EventType = "message_end"
	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Event is one item of a generation stream. Which fields are set depends on
// Type.
type Event struct {
	Type           EventType
	MessageID      string
	ConversationID string
	Text           string
	// Citations are whatever the backend attached to message_end. The pipeline
	// keeps its own citations and ignores these.
	Citations []map[string]any
	Message   string
}

// GenerateRequest is the fused input for one answer.
//
// KBContext already contains the standard answer block when the Q/A store
// produced a hit. GraphContext is passed as a separate channel so a backend
// can place it differently in its prompt.
type GenerateRequest struct {
	Query          string
	UserID         string
	ConversationID string
	CollectionIDs  []string
	KBContext      string
	GraphContext   string
	KBTopScore     float64
}

// Generator streams an answer for a fused request.
//
// The returned channel is closed after message_end or error, or when ctx is
// done. Implementations must stop sending once ctx is canceled.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error)
}

// GenerateOptions holds configuration for chat model backends.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// GenerateOption is a functional option for configuring chat model backends.
type GenerateOption func(*GenerateOptions)

// WithModel sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to every request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking enables extended thinking mode with the given effort.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// NewGenerateOptions applies opts on top of the defaults used by all chat
// backends.
func NewGenerateOptions(defaultModel string, opts ...GenerateOption) GenerateOptions {
	options := GenerateOptions{
		Model:         defaultModel,
		SystemPrompts: []string{AnswerSystemPrompt},
		Temperature:   0.2,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

// Send delivers ev on out unless ctx is done first. It reports whether the
// event was delivered.
func Send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
