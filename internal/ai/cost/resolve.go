package cost

import "strings"

// ResolveProviderAndModel normalizes a usage event into the provider and model pair used for
// reporting and pricing. The requested model wins over the one echoed by the endpoint, and a
// "provider:" prefix on either is stripped.
func ResolveProviderAndModel(eventProvider, requestModel, responseModel string) (provider, model string) {
	provider = strings.ToLower(strings.TrimSpace(eventProvider))

	model = normalizeModelForProvider(provider, requestModel, responseModel)
	if provider == "" {
		provider = inferProvider(model)
	}
	return provider, model
}

func normalizeModelForProvider(provider, requestModel, responseModel string) string {
	for _, candidate := range []string{requestModel, responseModel} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		parts := strings.SplitN(candidate, ":", 2)
		if len(parts) == 2 && provider != "" && strings.ToLower(strings.TrimSpace(parts[0])) == provider {
			return strings.TrimSpace(parts[1])
		}
		return candidate
	}
	return ""
}

// inferProvider guesses the endpoint from the model id shape: OpenRouter ids
// are namespaced as "vendor/model", Groq ids are bare.
func inferProvider(model string) string {
	trimmed := strings.ToLower(strings.TrimSpace(model))
	switch {
	case trimmed == "":
		return ""
	case strings.Contains(trimmed, "/"):
		return "openrouter"
	default:
		if _, ok := lookupPrice("groq", trimmed); ok {
			return "groq"
		}
		return ""
	}
}
