package health

import (
"context"
"fmt"
"net/http"
"time"
)

// HTTPChecker implements health checking for HTTP-reachable dependencies,
// such as the hosted scoring API.
type HTTPChecker struct {
url    string
client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker.
// The url should be the base URL of the dependency (e.g., "https://api.openai.com/v1/models").
func NewHTTPChecker(url string) *HTTPChecker {
return &HTTPChecker{
url: url,
client: &http.Client{
Timeout: 3 * time.Second,
Transport: &http.Transport{
MaxIdleConns:        16,
MaxIdleConnsPerHost: 4,
IdleConnTimeout:     30 * time.Second,
},
},
}
}

// HealthCheck performs a health check by making an HTTP request.
// Dependencies without a dedicated health endpoint are considered
// healthy when the server is reachable.
func (l *HTTPChecker) HealthCheck(ctx context.Context) error {
if l.url == "" {
return fmt.Errorf("health check url not configured")
}

req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
if err != nil {
return fmt.Errorf("failed to create request: %w", err)
}

resp, err := l.client.Do(req)
if err != nil {
return fmt.Errorf("failed to reach server: %w", err)
}
defer resp.Body.Close()

// Consider the server healthy only for successful (2xx) responses.
// Non-2xx status codes likely indicate the service is unavailable or misconfigured.
if resp.StatusCode < 200 || resp.StatusCode >= 300 {
return fmt.Errorf("unhealthy: unexpected status code %d", resp.StatusCode)
}

return nil
}
