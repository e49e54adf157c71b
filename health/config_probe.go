package health

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// requiredConfigKeys must be present and non-empty.
var requiredConfigKeys = []string{"llm_provider", "llm_model_name"}

// CheckConfiguration validates an LLM configuration map. Missing required
// keys and unsupported providers are critical; missing secrets and out of
// range tuning values are warnings. All issues are joined into one result.
func (c *Checker) CheckConfiguration(cfg map[string]any) Check {
	return c.probe(context.Background(), NameConfiguration, func(context.Context) Check {
		status := StatusHealthy
		var issues []string
		fail := func(s Status, msg string) {
			status = status.Worse(s)
			issues = append(issues, msg)
		}

		for _, key := range requiredConfigKeys {
			if v, ok := cfg[key]; !ok || v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
				fail(StatusCritical, fmt.Sprintf("Missing required configuration: %s", key))
			}
		}

		provider := ""
		if v, ok := cfg["llm_provider"]; ok && v != nil {
			provider = strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		}
		switch provider {
		case "":
		case ProviderOpenAI, ProviderAnthropic:
			env := providerKeyEnv[provider]
			if v, ok := c.lookupEnv(env); !ok || v == "" {
				fail(StatusWarning, fmt.Sprintf("Missing %s environment variable", env))
			}
		case ProviderOllama:
		default:
			fail(StatusCritical, fmt.Sprintf("Unsupported LLM provider: %s", provider))
		}

		if v, ok := cfg["llm_temperature"]; ok && v != nil {
			temp, err := toFloat(v)
			switch {
			case err != nil:
				fail(StatusWarning, fmt.Sprintf("Invalid llm_temperature: %v", v))
			case temp < 0 || temp > 2:
				fail(StatusWarning, fmt.Sprintf("llm_temperature should be between 0 and 2, got %g", temp))
			}
		}

		if v, ok := cfg["llm_max_tokens"]; ok && v != nil {
			n, err := toFloat(v)
			switch {
			case err != nil:
				fail(StatusWarning, fmt.Sprintf("Invalid llm_max_tokens: %v", v))
			case n <= 0:
				fail(StatusWarning, fmt.Sprintf("llm_max_tokens must be positive, got %g", n))
			}
		}

		details := map[string]any{"issues": issues, "keys_checked": len(cfg)}
		if len(issues) == 0 {
			details["issues"] = []string{}
			return Check{Status: StatusHealthy, Message: "Configuration is valid", Details: details}
		}
		return Check{Status: status, Message: strings.Join(issues, "; "), Details: details}
	})
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// CheckAgentResponsiveness times fn against the response time thresholds.
// An error from fn is critical.
func (c *Checker) CheckAgentResponsiveness(ctx context.Context, fn func(ctx context.Context) error) Check {
	return c.probe(ctx, NameAgentResponsiveness, func(ctx context.Context) Check {
		start := time.Now()
		err := fn(ctx)
		elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
		details := map[string]any{"response_time_ms": elapsedMs}
		if err != nil {
			details["error"] = err.Error()
			return Check{
				Status:  StatusCritical,
				Message: fmt.Sprintf("Agent test failed: %v", err),
				Details: details,
			}
		}

		t := c.Thresholds()[ThresholdResponseTime]
		switch t.Classify(elapsedMs) {
		case StatusCritical:
			return Check{Status: StatusCritical, Message: fmt.Sprintf("Agent response time critical: %.0fms", elapsedMs), Details: details}
		case StatusWarning:
			return Check{Status: StatusWarning, Message: fmt.Sprintf("Agent response time slow: %.0fms", elapsedMs), Details: details}
		default:
			return Check{Status: StatusHealthy, Message: fmt.Sprintf("Agent responded in %.0fms", elapsedMs), Details: details}
		}
	})
}
