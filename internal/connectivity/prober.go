package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober measures round-trip time to a health endpoint.
type Prober interface {
	// Probe performs one sample and returns the observed round-trip time.
	// The context carries the sample deadline.
	Probe(ctx context.Context) (time.Duration, error)
}

// HTTPProber samples a health endpoint with a HEAD request.
type HTTPProber struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProber creates a prober against the given health endpoint.
func NewHTTPProber(endpoint string) *HTTPProber {
	return &HTTPProber{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// Probe issues a single HEAD request and measures wall-clock latency.
func (p *HTTPProber) Probe(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	rtt := time.Since(start)

	if resp.StatusCode >= 500 {
		return rtt, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	return rtt, nil
}
