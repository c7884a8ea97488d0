package nl2sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Query shapes recognized by the extractor.
const (
	ShapeList     = "list"
	ShapeCount    = "count"
	ShapeLatest   = "latest"
	ShapeFailures = "failures"
)

const anyValue = "any"

// Params is the structured intent extracted from a natural-language CI/CD
// question. The pattern key derives from these values, never from the raw
// text, so paraphrases collapse to one key.
type Params struct {
	App         string `json:"app,omitempty"`
	Environment string `json:"environment,omitempty"`
	Window      string `json:"window,omitempty"`
	Shape       string `json:"shape"`
	Limit       int    `json:"limit,omitempty"`
}

// PatternKey renders the normalized cache key for these parameters.
func (p Params) PatternKey() string {
	part := func(v string) string {
		if v == "" {
			return anyValue
		}
		return strings.ToLower(v)
	}
	return fmt.Sprintf("cicd:%s:%s:%s:%s", part(p.App), part(p.Environment), part(p.Window), p.Shape)
}

// ParamsFromKey reverses PatternKey. Used when execute arrives without a
// prepare in the same process.
func ParamsFromKey(key string) Params {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "cicd" {
		return Params{Shape: ShapeList}
	}

	get := func(v string) string {
		if v == anyValue {
			return ""
		}
		return v
	}

	return Params{
		App:         get(parts[1]),
		Environment: strings.ToUpper(get(parts[2])),
		Window:      get(parts[3]),
		Shape:       parts[4],
	}
}

var (
	lastNPattern   = regexp.MustCompile(`\b(?:last|latest|past)\s+(\d+)\b`)
	latestPattern  = regexp.MustCompile(`\b(?:last|latest|most recent)\s+(?:deployment|deploy|build|run|release)\b`)
	windowPattern  = regexp.MustCompile(`\b(?:last|past)\s+(\d+)\s+(day|days|hour|hours|week|weeks)\b`)
	appAfterFor    = regexp.MustCompile(`\bfor\s+([a-z0-9][a-z0-9_-]*)\b`)
	nonWordPattern = regexp.MustCompile(`[^a-z0-9_-]+`)
)

var environments = map[string]string{
	"prod":        "PROD",
	"production":  "PROD",
	"staging":     "STAGING",
	"stage":       "STAGING",
	"dev":         "DEV",
	"development": "DEV",
}

// Extractor turns free-form questions into Params using fixed rules. It is
// deterministic: the same question always yields the same parameters.
type Extractor struct {
	knownApps []string
}

func NewExtractor(knownApps []string) *Extractor {
	apps := make([]string, len(knownApps))
	for i, app := range knownApps {
		apps[i] = strings.ToLower(app)
	}
	return &Extractor{knownApps: apps}
}

func (e *Extractor) Extract(query string) Params {
	lower := strings.ToLower(query)
	tokens := tokenize(lower)

	p := Params{
		App:         e.extractApp(lower, tokens),
		Environment: extractEnvironment(tokens),
		Window:      extractWindow(lower),
		Shape:       extractShape(lower),
	}

	if m := lastNPattern.FindStringSubmatch(lower); m != nil && windowPattern.FindStringSubmatch(lower) == nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.Limit = n
		}
	}

	return p
}

func (e *Extractor) extractApp(lower string, tokens []string) string {
	for _, app := range e.knownApps {
		for _, tok := range tokens {
			if tok == app {
				return app
			}
		}
	}

	// Fall back to the noun after "for", unless it names an environment.
	if m := appAfterFor.FindStringSubmatch(lower); m != nil {
		if _, isEnv := environments[m[1]]; !isEnv {
			return m[1]
		}
	}

	return ""
}

func extractEnvironment(tokens []string) string {
	for _, tok := range tokens {
		if env, ok := environments[tok]; ok {
			return env
		}
	}
	return ""
}

func extractWindow(lower string) string {
	if m := windowPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return ""
		}
		switch {
		case strings.HasPrefix(m[2], "hour"):
			return fmt.Sprintf("last_%dh", n)
		case strings.HasPrefix(m[2], "week"):
			return fmt.Sprintf("last_%dd", n*7)
		default:
			return fmt.Sprintf("last_%dd", n)
		}
	}

	switch {
	case strings.Contains(lower, "today"):
		return "today"
	case strings.Contains(lower, "yesterday"):
		return "yesterday"
	case strings.Contains(lower, "last week"), strings.Contains(lower, "past week"):
		return "last_7d"
	case strings.Contains(lower, "last month"), strings.Contains(lower, "past month"):
		return "last_30d"
	}

	return ""
}

func extractShape(lower string) string {
	switch {
	case strings.Contains(lower, "how many"), strings.Contains(lower, "count"):
		return ShapeCount
	case strings.Contains(lower, "fail"):
		return ShapeFailures
	case lastNPattern.MatchString(lower):
		// "last 5 deployments" is a bounded list, not a single latest row.
		return ShapeList
	case latestPattern.MatchString(lower):
		return ShapeLatest
	default:
		return ShapeList
	}
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(nonWordPattern.ReplaceAllString(lower, " "), func(r rune) bool {
		return r == ' '
	})
}
