package session

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/carrydev/carrycode/internal/observability"
)

// LatencyReport is the result of one endpoint reachability probe.
type LatencyReport struct {
	BaseURL   string        `json:"base_url"`
	Model     string        `json:"model"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency_ms"`
}

// checkLatency measures a round trip to the provider base URL. Any
// HTTP response counts as reachable; only transport failures do not.
func checkLatency(ctx context.Context, providerName, baseURL, model string) (LatencyReport, error) {
	report := LatencyReport{BaseURL: baseURL, Model: model}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return report, fmt.Errorf("failed to build latency probe: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	report.Latency = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("provider unreachable: %w", err)
	}
	resp.Body.Close()

	report.Reachable = true
	observability.RecordProviderLatency(providerName, report.Latency)
	return report, nil
}
