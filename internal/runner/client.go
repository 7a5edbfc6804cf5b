// Package runner implements the HTTP client for the external job-runner
// platform. The core treats the runner as a black box: submit a config, get a
// jobId, and eventually a webhook arrives with a dataset handle, or never
// does.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/core"
)

// Config controls the runner client.
type Config struct {
	BaseURL string
	Token   string
	// CallbackURL, when set, registers a completion webhook on every
	// submitted run.
	CallbackURL   string
	SubmitTimeout time.Duration
	FetchTimeout  time.Duration
}

// Client talks to the job-runner REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a runner client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}
}

type submitResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// webhookPayloadTemplate is expanded by the runner on delivery; the
// placeholders are the runner's, not ours.
const webhookPayloadTemplate = `{"eventType": {{eventType}}, "resource": {{resource}}}`

// Submit starts one scrape run and returns the runner's job id. A non-2xx
// response is a *core.SubmissionError, surfaced verbatim to the caller and
// never retried here. A client-side timeout is core.ErrSubmitTimeout: the run
// may have started anyway, so the outcome is ambiguous until the reconciler
// resolves it.
func (c *Client) Submit(ctx context.Context, req core.SubmitRequest) (string, error) {
	spec, ok := actors[req.Platform]
	if !ok {
		return "", fmt.Errorf("no actor registered for platform %q", req.Platform)
	}

	body := map[string]any{}
	for k, v := range spec.Build(req) {
		body[k] = v
	}
	if c.cfg.CallbackURL != "" {
		body["webhooks"] = []map[string]any{{
			"eventTypes":      []string{string(core.EventRunSucceeded), string(core.EventRunFailed)},
			"requestUrl":      c.cfg.CallbackURL,
			"payloadTemplate": webhookPayloadTemplate,
		}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal run input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs?token=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), spec.ActorID, url.QueryEscape(c.cfg.Token))

	submitCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(submitCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn("submission timed out with unknown outcome",
				zap.String("platform", string(req.Platform)),
				zap.String("entity", req.EntityName),
			)
			return "", core.ErrSubmitTimeout
		}
		return "", fmt.Errorf("submit run: %w", err)
	}
	defer closeBody(resp.Body, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &core.SubmissionError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if parsed.Data.ID == "" {
		return "", fmt.Errorf("submit response missing run id")
	}
	c.logger.Debug("run submitted",
		zap.String("platform", string(req.Platform)),
		zap.String("entity", req.EntityName),
		zap.String("job_id", parsed.Data.ID),
		zap.String("initial_status", parsed.Data.Status),
	)
	return parsed.Data.ID, nil
}

// FetchDataset retrieves the ordered record sequence a finished run wrote to
// its dataset.
func (c *Client) FetchDataset(ctx context.Context, handle string) ([]map[string]any, error) {
	if handle == "" {
		return nil, fmt.Errorf("dataset handle is required")
	}
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?token=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(handle), url.QueryEscape(c.cfg.Token))

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset %s: %w", handle, err)
	}
	defer closeBody(resp.Body, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch dataset %s: status %d", handle, resp.StatusCode)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", handle, err)
	}
	return items, nil
}

func closeBody(body io.Closer, logger *zap.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("close response body failed", zap.Error(err))
	}
}
