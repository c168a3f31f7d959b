package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/InsulaLabs/skiff/models"
)

const (
	defaultTimeout = 10 * time.Second
)

type Config struct {
	Endpoint   string // e.g. "https://play.example.com:7101" or "http://127.0.0.1:7101"
	ApiKey     string // Optional; open playgrounds accept unauthenticated calls
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client is the API client for the skiff playground service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

// New creates a new skiff API client.
func New(cfg *Config) (*Client, error) {

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	clientLogger := cfg.Logger.WithGroup("skiff_client")

	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		clientLogger.Error("Failed to parse endpoint", "endpoint", cfg.Endpoint, "error", err)
		return nil, fmt.Errorf("failed to parse endpoint '%s': %w", cfg.Endpoint, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme must be http or https, got '%s'", baseURL.Scheme)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("endpoint '%s' has no host", cfg.Endpoint)
	}

	tlsClientCfg := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
	}
	if cfg.SkipVerify {
		clientLogger.Info("TLS verification is skipped.")
	}

	transport := &http.Transport{
		TLSClientConfig: tlsClientCfg,
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}

	clientLogger.Debug("Skiff client initialized", "base_url", baseURL.String(), "tls_skip_verify", cfg.SkipVerify)

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		apiKey:     cfg.ApiKey,
		logger:     clientLogger,
	}, nil
}

// internal request helper
func (c *Client) doRequest(method, path string, queryParams map[string]string, body interface{}, target interface{}) error {

	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBodyBytes []byte
	var err error
	if body != nil {
		reqBodyBytes, err = json.Marshal(body)
		if err != nil {
			c.logger.Error("Failed to marshal request body", "path", path, "method", method, "error", err)
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
	}

	req, err := http.NewRequest(method, reqURL.String(), bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		c.logger.Error("Failed to create new HTTP request", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	c.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "method", method, "url", reqURL.String(), "error", err)
		return fmt.Errorf("http request %s %s failed: %w", method, reqURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Received non-2xx status code", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)

		var errorResp models.ErrorResponse
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			_ = json.Unmarshal(bodyBytes, &errorResp)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return rateLimitedFromResponse(resp, errorResp)
		}
		if errorResp.ErrorType != "" {
			return translateError(resp.StatusCode, errorResp)
		}
		// Fallback if the error body can't be parsed or isn't JSON
		return fmt.Errorf("%w: status %d for %s %s", ErrServer, resp.StatusCode, method, reqURL.String())
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			c.logger.Error("Failed to decode response body", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode, "error", err)
			return fmt.Errorf("failed to decode response body for %s %s (status %d): %w", method, reqURL.String(), resp.StatusCode, err)
		}
	}
	c.logger.Debug("Request successful", "method", method, "url", reqURL.String(), "status_code", resp.StatusCode)
	return nil
}

// Ping checks connectivity and reports the strategies the server
// understands.
func (c *Client) Ping() (*models.PingResponse, error) {
	var response models.PingResponse
	if err := c.doRequest(http.MethodGet, "skiff/api/v1/ping", nil, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Parse submits source for parsing only and returns its canonical form.
func (c *Client) Parse(source string) (*models.ParseResponse, error) {
	if source == "" {
		return nil, fmt.Errorf("source cannot be empty")
	}
	payload := models.ParseRequest{Source: source}
	var response models.ParseResponse
	if err := c.doRequest(http.MethodPost, "skiff/api/v1/parse", nil, payload, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Eval evaluates source under the given strategy. An empty strategy
// defers to the server's configured default.
func (c *Client) Eval(source string, strategy string) (*models.EvalResponse, error) {
	if source == "" {
		return nil, fmt.Errorf("source cannot be empty")
	}
	payload := models.EvalRequest{Source: source, Strategy: strategy}
	var response models.EvalResponse
	if err := c.doRequest(http.MethodPost, "skiff/api/v1/eval", nil, payload, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// --- Snippet Operations ---

// CreateSnippet stores source under a server-generated id. The server
// rejects sources that do not parse.
func (c *Client) CreateSnippet(source string) (*models.SnippetResponse, error) {
	if source == "" {
		return nil, fmt.Errorf("source cannot be empty")
	}
	payload := models.SnippetCreateRequest{Source: source}
	var response models.SnippetResponse
	if err := c.doRequest(http.MethodPost, "skiff/api/v1/snippets", nil, payload, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetSnippet retrieves a stored snippet by id.
func (c *Client) GetSnippet(id string) (*models.SnippetResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}
	params := map[string]string{"id": id}
	var response models.SnippetResponse
	if err := c.doRequest(http.MethodGet, "skiff/api/v1/snippets", params, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// EvalSnippet evaluates a stored snippet under the given strategy.
func (c *Client) EvalSnippet(id string, strategy string) (*models.EvalResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}
	payload := models.SnippetEvalRequest{ID: id, Strategy: strategy}
	var response models.EvalResponse
	if err := c.doRequest(http.MethodPost, "skiff/api/v1/snippets/eval", nil, payload, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DeleteSnippet removes a stored snippet. Deleting an id that does not
// exist is not an error.
func (c *Client) DeleteSnippet(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	payload := models.SnippetDeleteRequest{ID: id}
	return c.doRequest(http.MethodPost, "skiff/api/v1/snippets/delete", nil, payload, nil)
}
