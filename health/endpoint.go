package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// providerKeyEnv maps cloud providers to the environment variable holding
// their API key.
var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// ConnectivityName returns the check name used for a provider probe.
func ConnectivityName(provider string) string {
	return connectivityPrefix + strings.ToLower(provider)
}

// CheckLLMConnectivity probes a provider's model listing endpoint.
// Ollama is routed to CheckLocalService. Cloud providers need apiKey; an
// empty key is reported as a warning without making a request.
func (c *Checker) CheckLLMConnectivity(ctx context.Context, provider, apiKey string) Check {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == ProviderOllama {
		return c.CheckLocalService(ctx)
	}

	return c.probe(ctx, ConnectivityName(provider), func(ctx context.Context) Check {
		switch provider {
		case ProviderOpenAI, ProviderAnthropic:
		default:
			return Check{
				Status:  StatusUnknown,
				Message: fmt.Sprintf("Unknown provider: %s", provider),
				Details: map[string]any{"provider": provider},
			}
		}
		if apiKey == "" {
			return Check{
				Status:  StatusWarning,
				Message: fmt.Sprintf("No API key configured for %s", provider),
				Details: map[string]any{"provider": provider, "env": providerKeyEnv[provider]},
			}
		}
		if provider == ProviderOpenAI {
			return c.probeOpenAI(ctx, apiKey)
		}
		return c.probeAnthropic(ctx, apiKey)
	})
}

// probeOpenAI lists models through the go-openai client.
func (c *Checker) probeOpenAI(ctx context.Context, apiKey string) Check {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(c.cfg.OpenAIBaseURL, "/")
	cfg.HTTPClient = c.httpClient
	client := openai.NewClientWithConfig(cfg)

	models, err := client.ListModels(ctx)
	if err == nil {
		return Check{
			Status:  StatusHealthy,
			Message: "openai API is accessible",
			Details: map[string]any{
				"provider":    ProviderOpenAI,
				"status_code": http.StatusOK,
				"model_count": len(models.Models),
			},
		}
	}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return classifyHTTPStatus(ProviderOpenAI, apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0:
		return classifyHTTPStatus(ProviderOpenAI, reqErr.HTTPStatusCode)
	default:
		return connectionFailed(ProviderOpenAI, err)
	}
}

// probeAnthropic issues a GET against the models endpoint.
func (c *Checker) probeAnthropic(ctx context.Context, apiKey string) Check {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AnthropicURL, nil)
	if err != nil {
		return connectionFailed(ProviderAnthropic, err)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", c.cfg.AnthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connectionFailed(ProviderAnthropic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return classifyHTTPStatus(ProviderAnthropic, resp.StatusCode)
}

// classifyHTTPStatus maps an endpoint status code onto a check result.
func classifyHTTPStatus(provider string, code int) Check {
	details := map[string]any{"provider": provider, "status_code": code}
	switch {
	case code >= 200 && code < 300:
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%s API is accessible", provider), Details: details}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Check{Status: StatusWarning, Message: fmt.Sprintf("%s API authentication issue (HTTP %d)", provider, code), Details: details}
	case code >= 500:
		return Check{Status: StatusCritical, Message: fmt.Sprintf("%s API server error (HTTP %d)", provider, code), Details: details}
	default:
		return Check{Status: StatusWarning, Message: fmt.Sprintf("%s API returned HTTP %d", provider, code), Details: details}
	}
}

func connectionFailed(provider string, err error) Check {
	return Check{
		Status:  StatusCritical,
		Message: fmt.Sprintf("Cannot connect to %s API: %v", provider, err),
		Details: map[string]any{"provider": provider, "error": err.Error()},
	}
}

// localTags is the response of the local model server's /api/tags.
type localTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckLocalService probes the local model server and lists its models.
func (c *Checker) CheckLocalService(ctx context.Context) Check {
	return c.probe(ctx, ConnectivityName(ProviderOllama), func(ctx context.Context) Check {
		url := strings.TrimRight(c.cfg.OllamaURL, "/") + "/api/tags"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return connectionFailed(ProviderOllama, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("Cannot connect to local model server at %s", c.cfg.OllamaURL),
				Details: map[string]any{
					"provider":   ProviderOllama,
					"error":      err.Error(),
					"suggestion": "Ensure the server is running: ollama serve",
				},
			}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("Local model server returned HTTP %d", resp.StatusCode),
				Details: map[string]any{"provider": ProviderOllama, "status_code": resp.StatusCode},
			}
		}

		var tags localTags
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tags); err != nil {
			return Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("Local model server returned an unreadable model list: %v", err),
				Details: map[string]any{"provider": ProviderOllama, "error": err.Error()},
			}
		}

		names := make([]string, 0, 5)
		for i, m := range tags.Models {
			if i == 5 {
				break
			}
			names = append(names, m.Name)
		}
		return Check{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("Local model server is running with %d models", len(tags.Models)),
			Details: map[string]any{
				"provider":    ProviderOllama,
				"model_count": len(tags.Models),
				"models":      names,
			},
		}
	})
}
