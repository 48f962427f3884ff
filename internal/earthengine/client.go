// Package earthengine is a small REST client for the Earth Engine API covering
// image catalog listing, image exports and long-running operation management.
package earthengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	resty "github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultBaseURL        = "https://earthengine.googleapis.com/v1"
	DefaultCatalogProject = "earthengine-public"
	DefaultPageSize       = 100
	DefaultTimeout        = 45 * time.Second
	DefaultCloudProperty  = "CLOUDY_PIXEL_PERCENTAGE"

	retryWaitTime    = 200 * time.Millisecond
	retryWaitTimeMax = 5 * time.Second
)

// Scopes requested for application default credentials.
var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

// ErrNotFound is returned when the API answers 404 for an asset or operation.
var ErrNotFound = errors.New("earthengine: not found")

// Config controls the REST client.
type Config struct {
	Project        string        `mapstructure:"project"`
	CatalogProject string        `mapstructure:"catalog_project"`
	BaseURL        string        `mapstructure:"base_url"`
	PageSize       int           `mapstructure:"page_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	CloudProperty  string        `mapstructure:"cloud_property"`
}

// Client talks to the Earth Engine REST API.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger
}

// APIError is the error envelope returned by Google APIs.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Status     string `json:"status"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("earthengine: %d %s: %s", e.HTTPStatus, e.Status, e.Message)
}

// Unwrap maps 404 responses onto ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.HTTPStatus == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// NewDefault builds a client authenticated with application default credentials.
func NewDefault(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	hc, err := google.DefaultClient(ctx, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("earthengine credentials: %w", err)
	}
	return New(hc, cfg, logger)
}

// New wraps an already authenticated HTTP client.
func New(hc *http.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Project == "" {
		return nil, errors.New("earthengine: project is required")
	}
	if hc == nil {
		hc = &http.Client{Transport: newTransport()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CatalogProject == "" {
		cfg.CatalogProject = DefaultCatalogProject
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CloudProperty == "" {
		cfg.CloudProperty = DefaultCloudProperty
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	r := resty.NewWithClient(hc)
	r.SetBaseURL(cfg.BaseURL)
	r.SetTimeout(cfg.Timeout)
	r.SetHeader("Accept", "application/json")
	r.SetRetryCount(cfg.RetryCount)
	r.SetRetryWaitTime(retryWaitTime)
	r.SetRetryMaxWaitTime(retryWaitTimeMax)
	r.AddRetryCondition(func(resp *resty.Response, _ error) bool {
		if resp == nil {
			return false
		}
		switch resp.StatusCode() {
		case http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	})

	c := &Client{http: r, cfg: cfg, logger: logger.Named("earthengine")}
	r.AddRetryHook(func(resp *resty.Response, err error) {
		fields := []zap.Field{zap.Error(err)}
		if resp != nil && resp.Request != nil {
			fields = append(fields,
				zap.String("method", resp.Request.Method),
				zap.String("url", resp.Request.URL),
				zap.Int("status", resp.StatusCode()),
			)
		}
		c.logger.Warn("retrying earth engine request", fields...)
	})
	r.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("earth engine response",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()),
		)
		return nil
	})
	return c, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// do executes req against path and decodes a successful JSON body into out.
func (c *Client) do(req *resty.Request, method, path string, out any) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("earthengine %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return decodeError(resp)
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &envelope.Error
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	apiErr.HTTPStatus = resp.StatusCode()
	if apiErr.Status == "" {
		apiErr.Status = http.StatusText(resp.StatusCode())
	}
	return apiErr
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

func (c *Client) projectPath() string {
	return "projects/" + c.cfg.Project
}
