package ollama

import (
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// Client implements ai.Generator using a locally hosted Ollama server.
type Client struct {
	defaultModel string
	options      []ai.GenerateOption

	reqLock *semaphore.Weighted

	Client *api.Client
}

// NewClientParams contains configuration options for creating a new Client.
type NewClientParams struct {
	ChatModel string

	BaseURL string
	ApiKey  string

	// MaxConcurrentRequests bounds the number of streams open at once.
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates a new Ollama generation client. It connects to the server
// at BaseURL, or to the default address if empty.
func NewClient(params NewClientParams, opts ...ai.GenerateOption) (*Client, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.ApiKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.ApiKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 4
	}

	return &Client{
		defaultModel: params.ChatModel,
		options:      opts,
		reqLock:      semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:       api.NewClient(u, httpClient),
	}, nil
}
