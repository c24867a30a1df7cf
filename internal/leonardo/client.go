package leonardo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cinegen/internal/infra"
	"cinegen/internal/reference"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("leonardo: api key is required")

// ErrUnauthorized indicates the remote service rejected the configured credentials.
var ErrUnauthorized = errors.New("leonardo: invalid credentials")

// ErrJobFailed indicates the remote service marked a generation job as failed.
var ErrJobFailed = errors.New("leonardo: generation failed")

// ErrAwaitTimeout indicates a job did not reach a terminal status before its deadline.
var ErrAwaitTimeout = errors.New("leonardo: generation timed out")

// State is the normalized remote job status.
type State string

const (
	StatePending  State = "PENDING"
	StateComplete State = "COMPLETE"
	StateFailed   State = "FAILED"
)

// JobStatus is the normalized result of polling one generation job.
type JobStatus struct {
	State    State
	ImageURL string
	Message  string
}

// Options configures the Leonardo generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	ModelID        string
	Width          int
	Height         int
	HTTPClient     *http.Client
	Logger         *infra.Logger
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Leonardo.ai REST generation API. Jobs are
// asynchronous on the remote side: Submit returns a generation id and Poll or
// Await observe it until it turns terminal.
type Client struct {
	apiKey       string
	baseURL      string
	modelID      string
	width        int
	height       int
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
}

type createGenerationRequest struct {
	Prompt      string      `json:"prompt"`
	ModelID     string      `json:"modelId"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	NumImages   int         `json:"num_images"`
	PromptMagic bool        `json:"promptMagic"`
	Alchemy     bool        `json:"alchemy"`
	InitImages  []initImage `json:"init_images,omitempty"`
}

type initImage struct {
	Data        string `json:"data"`
	MIME        string `json:"mime_type"`
	Description string `json:"description,omitempty"`
	Tag         string `json:"tag,omitempty"`
}

type createGenerationResponse struct {
	SDGenerationJob struct {
		GenerationID string `json:"generationId"`
	} `json:"sdGenerationJob"`
}

type getGenerationResponse struct {
	GenerationsByPK struct {
		Status          string `json:"status"`
		Error           string `json:"error"`
		GeneratedImages []struct {
			URL string `json:"url"`
		} `json:"generated_images"`
	} `json:"generations_by_pk"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://cloud.leonardo.ai/api/rest/v1"
	}
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = "ac614f96-1082-45bf-be9d-757f2d31c174"
	}
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 576
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		modelID:      modelID,
		width:        width,
		height:       height,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: pollInterval,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit creates a generation job and returns its remote id. Reference images
// beyond the service limit are rejected before any network call.
func (c *Client) Submit(ctx context.Context, prompt string, refs []reference.Image) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("leonardo: prompt is required")
	}
	if len(refs) > reference.MaxImages {
		return "", fmt.Errorf("leonardo: %d reference images exceed the limit of %d", len(refs), reference.MaxImages)
	}
	payload := createGenerationRequest{
		Prompt:      prompt,
		ModelID:     c.modelID,
		Width:       c.width,
		Height:      c.height,
		NumImages:   1,
		PromptMagic: true,
		Alchemy:     true,
	}
	for _, ref := range refs {
		payload.InitImages = append(payload.InitImages, initImage{
			Data:        base64.StdEncoding.EncodeToString(ref.Data),
			MIME:        ref.MIME,
			Description: ref.Description,
			Tag:         ref.Tag,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("leonardo: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("leonardo: build request: %w", err)
	}
	c.setHeaders(req, true)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("leonardo: submit generation: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("leonardo: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("leonardo: %s", statusDetail(resp.StatusCode, raw))
	}
	var decoded createGenerationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("leonardo: decode response: %w", err)
	}
	id := strings.TrimSpace(decoded.SDGenerationJob.GenerationID)
	if id == "" {
		return "", errors.New("leonardo: response missing generation id")
	}
	c.logger.Debug().Str("generation_id", id).Msg("leonardo: submitted generation")
	return id, nil
}

// Poll fetches the current status of one generation job. A remote FAILED
// status is returned as an error wrapping ErrJobFailed; transport errors are
// returned as-is so Await can classify them as transient.
func (c *Client) Poll(ctx context.Context, id string) (JobStatus, error) {
	if !c.HasCredentials() {
		return JobStatus{}, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+url.PathEscape(id), nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("leonardo: build request: %w", err)
	}
	c.setHeaders(req, false)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("leonardo: poll generation: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return JobStatus{}, fmt.Errorf("leonardo: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return JobStatus{}, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return JobStatus{}, fmt.Errorf("leonardo: %s", statusDetail(resp.StatusCode, raw))
	}
	var decoded getGenerationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return JobStatus{}, fmt.Errorf("leonardo: decode response: %w", err)
	}
	gen := decoded.GenerationsByPK
	switch strings.ToUpper(strings.TrimSpace(gen.Status)) {
	case "COMPLETE":
		if len(gen.GeneratedImages) == 0 || strings.TrimSpace(gen.GeneratedImages[0].URL) == "" {
			// Remote sometimes flips to COMPLETE before image URLs land.
			return JobStatus{State: StatePending}, nil
		}
		return JobStatus{State: StateComplete, ImageURL: gen.GeneratedImages[0].URL}, nil
	case "FAILED":
		msg := strings.TrimSpace(gen.Error)
		if msg == "" {
			msg = "unknown error"
		}
		return JobStatus{State: StateFailed, Message: msg}, fmt.Errorf("%w: %s", ErrJobFailed, msg)
	default:
		return JobStatus{State: StatePending}, nil
	}
}

// Await polls a job with a bounded backoff until it is terminal or the
// timeout elapses, then downloads and returns the image bytes. Transient
// transport errors are retried internally; the caller only sees them if the
// deadline expires first.
func (c *Client) Await(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	interval := c.pollInterval
	for {
		status, err := c.Poll(ctx, id)
		switch {
		case err == nil && status.State == StateComplete:
			return c.download(ctx, status.ImageURL)
		case err != nil && errors.Is(err, ErrJobFailed):
			return nil, err
		case err != nil && errors.Is(err, ErrUnauthorized):
			return nil, err
		case err != nil && !isTransient(err):
			return nil, err
		case err != nil:
			c.logger.Warn().Err(err).Str("generation_id", id).Msg("leonardo: transient poll error, retrying")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrAwaitTimeout, ctxErr)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s", ErrAwaitTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrAwaitTimeout, ctx.Err())
		case <-time.After(interval):
		}
		interval = nextInterval(interval)
	}
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("leonardo: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("leonardo: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("leonardo: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("leonardo: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("leonardo: read image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("leonardo: empty image payload")
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func statusDetail(code int, raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return fmt.Sprintf("status %d: %s", code, detail.Message)
		}
		if detail.Error != "" {
			return fmt.Sprintf("status %d: %s", code, detail.Error)
		}
	}
	return fmt.Sprintf("status %d: %s", code, strings.TrimSpace(string(raw)))
}

// nextInterval grows the poll delay by half, capped so a slow job is still
// observed every few seconds.
func nextInterval(current time.Duration) time.Duration {
	next := current + current/2
	if max := 10 * time.Second; next > max {
		next = max
	}
	return next
}

// isTransient reports whether a poll error is worth retrying within the
// job's deadline. Terminal remote verdicts and credential problems are never
// transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrJobFailed) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "status 5"):
		return true
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset"):
		return true
	case strings.Contains(msg, "poll generation"), strings.Contains(msg, "read response"):
		// Transport-level failures surface wrapped under these prefixes.
		return true
	}
	return false
}
