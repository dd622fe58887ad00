package openai

import (
	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client implements ai.Generator on top of an OpenAI compatible chat
// completion endpoint.
//
// A Client should be created using NewClient.
type Client struct {
	chatURL string
	options []ai.GenerateOption

	defaultModel string

	ChatClient *openai.Client
}

// NewClientParams defines the configuration for NewClient.
//
// ChatURL may be empty to use the official OpenAI endpoint. Thinking is passed
// as reasoning effort when set.
type NewClientParams struct {
	ChatModel string
	ChatURL   string
	ChatKey   string
	Thinking  string
}

// NewClient creates a new generation client.
//
// Example:
//
//	client := openai.NewClient(openai.NewClientParams{
//		ChatModel: "gpt-4o-mini",
//		ChatKey:   os.Getenv("AI_CHAT_KEY"),
//	})
func NewClient(params NewClientParams, opts ...ai.GenerateOption) *Client {
	if params.Thinking != "" {
		opts = append(opts, ai.WithThinking(params.Thinking))
	}
	return &Client{
		chatURL:      params.ChatURL,
		options:      opts,
		defaultModel: params.ChatModel,
		ChatClient:   newOpenaiClient(params.ChatURL, params.ChatKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
