package origin

import (
	"fmt"
	"regexp"
	"strings"
)

// Patterns is a compiled list of allowed origins.
type Patterns []*regexp.Regexp

// Compile turns origin globs into anchored patterns. '*' matches any run of characters;
// everything else is matched literally.
func Compile(allowedOrigins []string) (Patterns, error) {
	patterns := make(Patterns, 0, len(allowedOrigins))
	for _, allowed := range allowedOrigins {
		pattern := "^" + regexp.QuoteMeta(allowed) + "$"
		pattern = strings.ReplaceAll(pattern, `\*`, `.*`)

		regex, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allowed origin %q: %w", allowed, err)
		}
		patterns = append(patterns, regex)
	}
	return patterns, nil
}

// Allows reports whether origin may open a control session. Requests without an Origin
// header come from non-browser controllers and are always accepted.
func (p Patterns) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	for _, pattern := range p {
		if pattern.MatchString(origin) {
			return true
		}
	}
	return false
}
