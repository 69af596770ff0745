package cache

import "fmt"

// ProjectKey caches the project resolved from an SDK key.
func ProjectKey(apiKey string) string {
	return fmt.Sprintf("project:key:%s", apiKey)
}

func RateLimitKey(apiKey string) string {
	return fmt.Sprintf("ratelimit:%s", apiKey)
}
