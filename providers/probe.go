package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Endpoint describes the remotely probeable surface of a provider: where to
// check health, where to enumerate models, and how to authenticate.
type Endpoint struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	HealthEndpoint string `json:"health_endpoint" yaml:"health_endpoint"`
	ModelsEndpoint string `json:"models_endpoint,omitempty" yaml:"models_endpoint,omitempty"`
	Auth           Auth   `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// HealthReport is the JSON shape a provider health endpoint must return.
// AverageLatency is in milliseconds.
type HealthReport struct {
	Status         string  `json:"status"`
	SuccessRate    float64 `json:"successRate"`
	AverageLatency float64 `json:"averageLatency"`
}

// ProbeHealth performs a single health check against the endpoint. A non-2xx
// response or malformed body is an error; callers count it as a failed probe.
func ProbeHealth(ctx context.Context, client *http.Client, ep Endpoint) (*HealthReport, error) {
	url := ep.BaseURL + ep.HealthEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create health probe: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read health probe response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("health probe returned %d: %s", resp.StatusCode, string(body))
	}

	var report HealthReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to parse health report: %w", err)
	}
	return &report, nil
}

// openAIModelList mirrors the OpenAI /v1/models response schema, which most
// self-hosted gateways also speak.
type openAIModelList struct {
	Object string `json:"object"`
	Data   []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// FetchModels retrieves the live model list from an endpoint's models URL.
// Models come back with the given provider id and the capabilities/cost the
// caller supplies as defaults (remote lists rarely carry either).
func FetchModels(ctx context.Context, client *http.Client, ep Endpoint, providerID string, defaults ModelInfo) ([]ModelInfo, error) {
	if ep.ModelsEndpoint == "" {
		return nil, nil
	}
	url := ep.BaseURL + ep.ModelsEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models request returned %d: %s", resp.StatusCode, string(body))
	}

	var list openAIModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, ModelInfo{
			Provider:      providerID,
			Model:         m.ID,
			Capabilities:  defaults.Capabilities,
			CostPerToken:  defaults.CostPerToken,
			MaxTokens:     defaults.MaxTokens,
			ContextWindow: defaults.ContextWindow,
			Tier:          defaults.Tier,
		})
	}
	return models, nil
}
