// Package aiclient talks to the remote speech service that runs
// transcription and synthesis jobs.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/language"
	"github.com/Bridgeconn/obt-workflow/internal/util"
)

const (
	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 30 * time.Second

	// DefaultMinInterval spaces consecutive requests
	DefaultMinInterval = 100 * time.Millisecond

	// DefaultModelsTTL is how long the served-model list is reused
	DefaultModelsTTL = 5 * time.Minute

	// UserAgent identifies this tool to the service
	UserAgent = "obt-workflow/1.0"
)

// Job status strings reported by the service
const (
	StatusFinished = "job finished"
	StatusFailed   = "job failed"
	StatusError    = "Error"
)

// Config holds client configuration
type Config struct {
	BaseURL     string // includes the API prefix, e.g. https://api.example.org/v2/ai
	Token       string
	Timeout     time.Duration
	MinInterval time.Duration
	ModelsTTL   time.Duration
	HTTPClient  *http.Client // overrides Timeout when set
	Retry       *util.RetryConfig
}

// Client is safe for concurrent use
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retry       *util.RetryConfig
	minInterval time.Duration
	modelsTTL   time.Duration

	mu          sync.Mutex
	lastRequest time.Time

	modelsMu sync.Mutex
	models   map[string]bool
	modelsAt time.Time
}

// New creates a client. BaseURL is required.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: AI service base URL is not set", util.ErrInvalidConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid AI service base URL: %v", util.ErrInvalidConfig, err)
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		httpClient:  cfg.HTTPClient,
		retry:       cfg.Retry,
		minInterval: cfg.MinInterval,
		modelsTTL:   cfg.ModelsTTL,
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.retry == nil {
		c.retry = util.ServiceRetryConfig()
	}
	if c.minInterval < 0 {
		c.minInterval = 0
	}
	if c.modelsTTL == 0 {
		c.modelsTTL = DefaultModelsTTL
	}
	return c, nil
}

// ServiceError is a non-success HTTP response
type ServiceError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s: %s failed with status %d: %s", util.ErrExternalService, e.Op, e.StatusCode, body)
}

func (e *ServiceError) Unwrap() error { return util.ErrExternalService }

// Retryable reports whether the response suggests a transient failure
func (e *ServiceError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Transcription pairs an uploaded file name with its recognized text
type Transcription struct {
	AudioFile string `json:"audioFile"`
	Text      string `json:"transcribedText"`
}

// JobResult is the service's view of a job
type JobResult struct {
	Status         string
	Transcriptions []Transcription
}

// Finished reports successful completion
func (r *JobResult) Finished() bool { return r.Status == StatusFinished }

// Failed reports a terminal failure
func (r *JobResult) Failed() bool { return r.Status == StatusFailed || r.Status == StatusError }

type jobEnvelope struct {
	Data struct {
		JobID  jobID  `json:"jobId"`
		Status string `json:"status"`
		Output struct {
			Transcriptions []Transcription `json:"transcriptions"`
		} `json:"output"`
	} `json:"data"`
}

// jobID accepts both numeric and string ids
type jobID string

func (id *jobID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = jobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	*id = jobID(n.String())
	return nil
}

type servedModel struct {
	ModelName string `json:"modelName"`
}

// waitForRateLimit spaces requests by minInterval
func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.minInterval == 0 {
		return nil
	}
	c.mu.Lock()
	wait := time.Until(c.lastRequest.Add(c.minInterval))
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends req and returns the response when its status equals want
func (c *Client) do(ctx context.Context, op string, req *http.Request, want int) (*http.Response, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	util.DebugLog("AI service: %s %s", req.Method, req.URL.Path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", util.ErrExternalService, op, err)
	}
	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ServiceError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", util.ErrExternalService, err)
	}
	return nil
}

// ServedModels lists the model names the service currently serves
func (c *Client) ServedModels(ctx context.Context) ([]string, error) {
	return util.RetryWithContext(ctx, c.retry, func() ([]string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/model/served-models", nil), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.do(ctx, "served-models", req, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var models []servedModel
		if err := decodeJSON(resp, &models); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(models))
		for _, m := range models {
			names = append(names, m.ModelName)
		}
		return names, nil
	}, "served-models")
}

// EnsureServed fails when model is absent from the served-model list. The
// list is cached for ModelsTTL.
func (c *Client) EnsureServed(ctx context.Context, model string) error {
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()

	if c.models == nil || time.Since(c.modelsAt) > c.modelsTTL {
		names, err := c.ServedModels(ctx)
		if err != nil {
			return err
		}
		c.models = make(map[string]bool, len(names))
		for _, n := range names {
			c.models[n] = true
		}
		c.modelsAt = time.Now()
	} else {
		util.DebugLog("AI service: served-model cache hit for %s", model)
	}

	if !c.models[model] {
		return fmt.Errorf("%w: model %q is not served", util.ErrExternalService, model)
	}
	return nil
}

// SubmitTranscription uploads one audio file and returns the job id.
// Submissions are not retried.
func (c *Client) SubmitTranscription(ctx context.Context, model language.Model, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", audioPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", audioPath, err)
	}
	if err := mw.WriteField("transcription_language", model.Code); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	u := c.endpoint("/model/audio/transcribe", url.Values{"model_name": {model.Name}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(ctx, "transcribe", req, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return readJobID(resp)
}

// SubmitSynthesis requests speech for texts in the given output format
func (c *Client) SubmitSynthesis(ctx context.Context, model language.Model, texts []string, format string) (string, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return "", fmt.Errorf("failed to encode texts: %w", err)
	}

	u := c.endpoint("/model/audio/generate", url.Values{
		"model_name":    {model.Name},
		"language":      {model.Code},
		"output_format": {format},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, "generate", req, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return readJobID(resp)
}

func readJobID(resp *http.Response) (string, error) {
	var env jobEnvelope
	if err := decodeJSON(resp, &env); err != nil {
		return "", err
	}
	id := string(env.Data.JobID)
	if id == "" {
		return "", fmt.Errorf("%w: response has no job id", util.ErrExternalService)
	}
	return id, nil
}

// JobStatus fetches the current state of a job
func (c *Client) JobStatus(ctx context.Context, id string) (*JobResult, error) {
	return util.RetryWithContext(ctx, c.retry, func() (*JobResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/model/job", url.Values{"job_id": {id}}), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.do(ctx, "job status", req, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var env jobEnvelope
		if err := decodeJSON(resp, &env); err != nil {
			return nil, err
		}
		return &JobResult{
			Status:         env.Data.Status,
			Transcriptions: env.Data.Output.Transcriptions,
		}, nil
	}, "job status "+id)
}

// DownloadAsset saves a finished job's output archive to dest
func (c *Client) DownloadAsset(ctx context.Context, id, dest string) (int64, error) {
	return util.RetryWithContext(ctx, c.retry, func() (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/assets", url.Values{"job_id": {id}}), nil)
		if err != nil {
			return 0, fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := c.do(ctx, "download assets", req, http.StatusOK)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		f, err := os.Create(dest)
		if err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", dest, err)
		}
		n, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
			return 0, fmt.Errorf("%w: failed to download assets for job %s: %v", util.ErrExternalService, id, err)
		}
		util.DebugLog("AI service: downloaded %d bytes for job %s", n, id)
		return n, nil
	}, "download assets "+id)
}
