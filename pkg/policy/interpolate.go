package policy

import (
	"fmt"
	"regexp"
	"strings"
)

var templateToken = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolate walks a conditions tree and substitutes ${path} tokens
// using dotted-path lookups against vars. The substitution is structural:
// a string that is exactly one token is replaced by the looked-up value
// itself (preserving its type), which avoids the quote-escaping pitfalls
// of serializing through text. Unresolvable paths interpolate to nil.
func interpolate(value interface{}, vars map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return interpolateString(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = interpolate(inner, vars)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = interpolate(inner, vars)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, vars map[string]interface{}) interface{} {
	// Whole-string token: substitute the raw value, whatever its type
	if m := templateToken.FindStringSubmatch(s); m != nil && m[0] == s {
		resolved, ok := lookupPath(vars, strings.TrimSpace(m[1]))
		if !ok {
			return nil
		}
		return resolved
	}
	if !templateToken.MatchString(s) {
		return s
	}
	// Embedded tokens inside a longer string: stringify each value
	return templateToken.ReplaceAllStringFunc(s, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-1])
		resolved, ok := lookupPath(vars, path)
		if !ok || resolved == nil {
			return "null"
		}
		return fmt.Sprint(resolved)
	})
}
