package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPEngine triggers a remote extraction runner by POSTing the request as
// JSON. The runner must answer only after the batch is durably loaded; any
// non-2xx status is a failed batch.
type HTTPEngine struct {
	URL     string
	Token   string
	Timeout time.Duration

	client *resty.Client
}

// NewHTTPEngine returns an engine posting to url.
func NewHTTPEngine(url, token string, timeout time.Duration) *HTTPEngine {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPEngine{URL: url, Token: token, Timeout: timeout, client: client}
}

func (e *HTTPEngine) Name() string {
	return "http"
}

func (e *HTTPEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if e.URL == "" {
		return nil, errors.New("url is required")
	}
	if e.client == nil {
		*e = *NewHTTPEngine(e.URL, e.Token, e.Timeout)
	}

	r := e.client.R().SetContext(ctx).SetBody(req)
	if e.Token != "" {
		r.SetHeader("X-Access-Token", e.Token)
	}
	rsp, err := r.Post(e.URL)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", e.URL, err)
	}
	if rsp.IsError() || rsp.StatusCode() < 200 || rsp.StatusCode() > 299 {
		return &Result{ExitCode: rsp.StatusCode()}, fmt.Errorf("http status code not 2xx: %d: %s", rsp.StatusCode(), truncate(rsp.String(), 512))
	}
	return &Result{}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
