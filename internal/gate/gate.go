package gate

import (
	"log/slog"
	"regexp"
	"strings"
)

// Gate decides whether an operation key enters the capture pipeline.
// Params: compiled allow and deny pattern lists.
// Returns: allow-first filter; allow fully overrides deny.
type Gate struct {
	allow []compiledPattern
	deny  []compiledPattern
}

type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

// New compiles pattern lists into a gate.
// Params: allow patterns, deny patterns, and logger for skip warnings.
// Returns: gate with malformed patterns skipped, never an error.
func New(allowPatterns, denyPatterns []string, logger *slog.Logger) *Gate {
	return &Gate{
		allow: compilePatterns(allowPatterns, "allow", logger),
		deny:  compilePatterns(denyPatterns, "deny", logger),
	}
}

// ShouldCapture reports whether the operation key passes the lists.
// Params: operation key such as "GET /api/orders".
// Returns: allow match when allow list is active, deny miss otherwise, default true.
func (g *Gate) ShouldCapture(operationKey string) bool {
	if len(g.allow) > 0 {
		return matchAny(g.allow, operationKey)
	}
	if len(g.deny) > 0 {
		return !matchAny(g.deny, operationKey)
	}
	return true
}

// AllowCount returns the number of usable allow patterns.
// Params: none.
// Returns: compiled allow pattern count.
func (g *Gate) AllowCount() int {
	return len(g.allow)
}

// DenyCount returns the number of usable deny patterns.
// Params: none.
// Returns: compiled deny pattern count.
func (g *Gate) DenyCount() int {
	return len(g.deny)
}

func matchAny(patterns []compiledPattern, key string) bool {
	lowered := strings.ToLower(key)
	for _, pattern := range patterns {
		if pattern.re.MatchString(lowered) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string, kind string, logger *slog.Logger) []compiledPattern {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		re, err := CompileWildcard(trimmed)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping malformed gate pattern", "kind", kind, "pattern", pattern, "error", err.Error())
			}
			continue
		}
		compiled = append(compiled, compiledPattern{source: trimmed, re: re})
	}
	return compiled
}

// CompileWildcard converts wildcard syntax (*, ?) into an anchored regex.
// Params: wildcard expression from the allow/deny configuration.
// Returns: compiled case-insensitive regex or compile error.
func CompileWildcard(pattern string) (*regexp.Regexp, error) {
	replacer := strings.NewReplacer(
		".", "\\.",
		"+", "\\+",
		"(", "\\(",
		")", "\\)",
		"[", "\\[",
		"]", "\\]",
		"{", "\\{",
		"}", "\\}",
		"^", "\\^",
		"$", "\\$",
		"|", "\\|",
	)
	normalized := replacer.Replace(strings.ToLower(pattern))
	normalized = strings.ReplaceAll(normalized, "*", ".*")
	normalized = strings.ReplaceAll(normalized, "?", ".")
	return regexp.Compile("^" + normalized + "$")
}
