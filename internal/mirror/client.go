package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FetchTimeout bounds every call to an upstream n8n endpoint. Exceeding it
// is treated like any other per-source fetch failure.
const FetchTimeout = 15 * time.Second

// Source is one upstream endpoint resolved by the registry. Prefix is the
// id namespace for every record the source reports.
type Source struct {
	Prefix  string
	Name    string
	BaseURL string
	APIKey  string
}

type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, e.URL)
}

// Fetcher retrieves raw entity payloads from one source. Implementations
// return the decoded JSON body as-is; the normalizer deals with shape.
type Fetcher interface {
	FetchWorkflows(ctx context.Context, src Source) (any, error)
	FetchExecutions(ctx context.Context, src Source) (any, error)
}

type HTTPFetcher struct {
	httpClient *http.Client
}

func NewHTTPFetcher(httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: FetchTimeout}
	}
	return &HTTPFetcher{httpClient: httpClient}
}

func (f *HTTPFetcher) FetchWorkflows(ctx context.Context, src Source) (any, error) {
	return f.fetch(ctx, src, "/workflows")
}

func (f *HTTPFetcher) FetchExecutions(ctx context.Context, src Source) (any, error) {
	return f.fetch(ctx, src, "/executions")
}

func (f *HTTPFetcher) fetch(ctx context.Context, src Source, path string) (any, error) {
	requestURL := strings.TrimRight(strings.TrimSpace(src.BaseURL), "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	if src.APIKey != "" {
		req.Header.Set("X-N8N-API-KEY", src.APIKey)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL}
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", requestURL, err)
	}
	return payload, nil
}
