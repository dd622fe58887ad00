package ollama

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// defaultContext is the context size Ollama uses unless told otherwise.
	defaultContext = 4096
	// responseReserve is added to the prompt size for the answer.
	responseReserve = 1024
)

// Generate streams a chat answer for the fused request.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) (<-chan ai.Event, error) {
	options := ai.NewGenerateOptions(c.defaultModel, c.options...)

	prompt := ai.BuildUserPrompt(req)
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := true
	chatReq := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		chatReq.Think = &api.ThinkValue{Value: options.Thinking}
	}

	numCtx, err := contextSize(msgs)
	if err != nil {
		return nil, err
	}
	if numCtx > defaultContext {
		chatReq.Options["num_ctx"] = numCtx
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	messageID := ai.NewID()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ai.NewID()
	}

	out := make(chan ai.Event, 16)

	go func() {
		defer close(out)
		defer c.reqLock.Release(1)

		if !ai.Send(ctx, out, ai.Event{
			Type:           ai.EventMessageStart,
			MessageID:      messageID,
			ConversationID: conversationID,
		}) {
			return
		}

		err := c.Client.Chat(ctx, chatReq, func(cr api.ChatResponse) error {
			if s := cr.Message.Content; s != "" {
				if !ai.Send(ctx, out, ai.Event{Type: ai.EventTextChunk, Text: s}) {
					return ctx.Err()
				}
			}
			if cr.Done {
				logger.Debug("[Ollama] Stream finished",
					"model", options.Model,
					"input_tokens", cr.Metrics.PromptEvalCount,
					"output_tokens", cr.Metrics.EvalCount,
					"duration_ms", cr.TotalDuration.Milliseconds(),
				)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			ai.Send(ctx, out, ai.Event{Type: ai.EventError, Message: err.Error()})
			return
		}

		ai.Send(ctx, out, ai.Event{
			Type:           ai.EventMessageEnd,
			MessageID:      messageID,
			ConversationID: conversationID,
		})
	}()

	return out, nil
}

// contextSize estimates the context window needed for msgs with the
// o200k_base encoding.
func contextSize(msgs []api.Message) (int, error) {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	tokens := responseReserve
	for _, m := range msgs {
		tokens += len(enc.Encode(m.Content, nil, nil))
	}
	return tokens, nil
}
