package ratelimit

import "strings"

// KeyFor builds the window key for an identity under a limiter class.
func KeyFor(class, identity string) string {
	class = strings.TrimSpace(class)
	identity = strings.TrimSpace(identity)
	if class == "" || identity == "" {
		return ""
	}
	return class + ":" + identity
}
