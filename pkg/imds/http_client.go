package imds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the link-local IMDSv2 base URL reachable from inside an
// OCI compute instance.
const DefaultEndpoint = "http://169.254.169.254/opc/v2"

const (
	defaultTimeout  = 2 * time.Second
	defaultRetries  = 3
	defaultInterval = 200 * time.Millisecond
	bearerHeader    = "Bearer Oracle"
)

var (
	errBadStatus        = errors.New("imds: unexpected status code")
	errRetriesExhausted = errors.New("imds: retries exhausted")
)

// transientError wraps a fetch failure that is worth retrying (a dropped
// connection, a timeout, or a 5xx/429/408 response from the metadata
// service), as opposed to one that will never succeed on retry.
type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// metadataConfig holds the tunables for MetadataClient, set via Option.
type metadataConfig struct {
	endpoint string
	retries  int
	interval time.Duration
}

// Option mutates metadataConfig during NewClient construction.
type Option func(*metadataConfig)

// WithBaseURL overrides the metadata service base URL used for requests.
func WithBaseURL(endpoint string) Option {
	return func(cfg *metadataConfig) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			cfg.endpoint = trimmed
		}
	}
}

// WithMaxAttempts overrides the number of attempts made per request before
// giving up, including the first.
func WithMaxAttempts(attempts int) Option {
	return func(cfg *metadataConfig) {
		if attempts > 0 {
			cfg.retries = attempts
		}
	}
}

// WithBackoff overrides the fixed delay between retry attempts.
func WithBackoff(interval time.Duration) Option {
	return func(cfg *metadataConfig) {
		if interval > 0 {
			cfg.interval = interval
		}
	}
}

// MetadataClient fetches identity facts (region, instance OCID) from the OCI
// IMDSv2 service over plain HTTP, retrying transient failures with a fixed
// delay between attempts.
type MetadataClient struct {
	doer     *http.Client
	endpoint string
	retries  int
	interval time.Duration
}

// NewClient builds a MetadataClient against the IMDSv2 endpoint. A nil
// httpClient gets a private instance scoped to link-local metadata access.
//
//nolint:ireturn // callers depend on the Client abstraction for substitution.
func NewClient(httpClient *http.Client, opts ...Option) Client {
	cfg := metadataConfig{
		endpoint: DefaultEndpoint,
		retries:  defaultRetries,
		interval: defaultInterval,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &MetadataClient{
		doer:     httpClient,
		endpoint: strings.TrimRight(cfg.endpoint, "/"),
		retries:  cfg.retries,
		interval: cfg.interval,
	}
}

// Region returns the canonical region for the running instance.
func (c *MetadataClient) Region(ctx context.Context) (string, error) {
	body, err := c.fetchWithRetry(ctx, "region")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

// InstanceID returns the OCID for the running instance.
func (c *MetadataClient) InstanceID(ctx context.Context) (string, error) {
	body, err := c.fetchWithRetry(ctx, "id")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

// fetchWithRetry calls fetchOnce up to c.retries times, sleeping c.interval
// between attempts, and only when the prior attempt failed transiently.
func (c *MetadataClient) fetchWithRetry(ctx context.Context, field string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retries; attempt++ {
		body, err := c.fetchOnce(ctx, field)
		if err == nil {
			return body, nil
		}

		var transient transientError
		if !errors.As(err, &transient) {
			return nil, err
		}

		lastErr = err

		if attempt == c.retries {
			break
		}

		if sleepErr := sleepOrDone(ctx, c.interval); sleepErr != nil {
			return nil, fmt.Errorf("imds: waiting to retry %s: %w", field, sleepErr)
		}
	}

	return nil, fmt.Errorf("%w: %s: %w", errRetriesExhausted, field, lastErr)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *MetadataClient) fetchOnce(ctx context.Context, field string) ([]byte, error) {
	url := fmt.Sprintf("%s/instance/%s", c.endpoint, strings.TrimPrefix(field, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("imds: build request for %s: %w", field, err)
	}

	req.Header.Set("Authorization", bearerHeader)

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("imds: %s: %w", field, ctx.Err())
		}

		return nil, transientError{fmt.Errorf("imds: %s: %w", field, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("imds: read %s response: %w", field, err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	if isRetryableStatus(resp.StatusCode) {
		return nil, transientError{fmt.Errorf("%w: %s: %d", errBadStatus, field, resp.StatusCode)}
	}

	return nil, fmt.Errorf("%w: %s: %d (%s)", errBadStatus, field, resp.StatusCode, strings.TrimSpace(string(body)))
}

func isRetryableStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}

	return status >= 500 && status != http.StatusNotImplemented
}
