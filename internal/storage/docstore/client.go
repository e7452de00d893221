// Package docstore persists askthemall records in OpenSearch. Every record kind
// lives behind an alias that points at a versioned index.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"askthemall/internal/persistence"
)

const DefaultIndexPrefix = "askthemall_"

type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	Transport   http.RoundTripper
}

type Client struct {
	api     *opensearchapi.Client
	indices IndexNames
}

func Open(cfg Config) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("opensearch addresses are empty")
	}
	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = DefaultIndexPrefix
	}

	api, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: cfg.Transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}
	return &Client{api: api, indices: NewIndexNames(prefix)}, nil
}

func (c *Client) Indices() IndexNames {
	return c.indices
}

// Repositories returns the repositories backed by this client.
func (c *Client) Repositories() persistence.Repositories {
	return persistence.Repositories{
		ChatBots:     NewChatBotRepository(c),
		Chats:        NewChatRepository(c),
		Interactions: NewInteractionRepository(c),
	}
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.api.Ping(ctx, nil)
	closeBody(resp)
	return classify("ping", resp, err)
}

type statusError struct {
	Op     string
	Status int
	Err    error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("opensearch %s: status %d: %v", e.Op, e.Status, e.Err)
}

func (e *statusError) Unwrap() error { return e.Err }

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// classify maps the outcome of a typed API call. A call that never got a
// response wraps persistence.ErrStoreUnavailable, an error status comes back
// as *statusError.
func classify(op string, resp *opensearch.Response, err error) error {
	if err == nil {
		return nil
	}
	if resp == nil {
		return fmt.Errorf("%w: %s: %v", persistence.ErrStoreUnavailable, op, err)
	}
	return &statusError{Op: op, Status: resp.StatusCode, Err: err}
}

// rawResponse returns the HTTP response behind a typed result, if any.
func rawResponse[R any, P interface {
	*R
	Inspect() opensearchapi.Inspect
}](resp P) *opensearch.Response {
	if resp == nil {
		return nil
	}
	return resp.Inspect().Response
}

// closeBody releases responses the typed client hands back undecoded.
func closeBody(resp *opensearch.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func jsonBody(v any) (io.Reader, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return bytes.NewReader(raw), nil
}
