package openai

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// Generate streams a chat completion for the fused request.
//
// The stream opens with message_start, relays every content delta as a
// text_chunk and ends with message_end, or with error when the upstream
// stream fails.
func (c *Client) Generate(ctx context.Context, req ai.GenerateRequest) (<-chan ai.Event, error) {
	if c.ChatClient == nil {
		return nil, errors.New("openai chat client is not configured")
	}

	options := ai.NewGenerateOptions(c.defaultModel, c.options...)

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+1)
	for _, message := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(message))
	}
	msgs = append(msgs, openai.UserMessage(ai.BuildUserPrompt(req)))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.UserID != "" {
		body.User = openai.String(req.UserID)
	}

	if options.Thinking != "" {
		// gpt-5 models only accept temperature 1.0 with reasoning enabled
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}

	messageID := ai.NewID()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = ai.NewID()
	}

	start := time.Now()
	stream := c.ChatClient.Chat.Completions.NewStreaming(ctx, body)
	out := make(chan ai.Event, 10)

	go func() {
		defer close(out)
		defer stream.Close()

		if !ai.Send(ctx, out, ai.Event{
			Type:           ai.EventMessageStart,
			MessageID:      messageID,
			ConversationID: conversationID,
		}) {
			return
		}

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)

			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !ai.Send(ctx, out, ai.Event{Type: ai.EventTextChunk, Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			ai.Send(ctx, out, ai.Event{Type: ai.EventError, Message: err.Error()})
			return
		}

		logger.Debug("[OpenAI] Stream finished",
			"model", options.Model,
			"input_tokens", acc.Usage.PromptTokens,
			"output_tokens", acc.Usage.CompletionTokens,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		ai.Send(ctx, out, ai.Event{
			Type:           ai.EventMessageEnd,
			MessageID:      messageID,
			ConversationID: conversationID,
		})
	}()

	return out, nil
}
