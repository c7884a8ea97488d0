package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/cicd"
	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/pkg/logger"
)

// Engine implements the two-phase NL2SQL protocol. Prepare extracts
// parameters and answers from the pattern cache when it can; Execute runs
// caller-generated SQL and memoizes the pattern only after it has proven
// itself by succeeding.
type Engine struct {
	store     Store
	db        *cicd.Store
	extractor *Extractor
	storeName string
}

type PrepareResult struct {
	Cached          bool                     `json:"cached"`
	PatternKey      string                   `json:"patternKey"`
	ExtractedParams Params                   `json:"extractedParams"`
	Results         []map[string]interface{} `json:"results,omitempty"`
	RowCount        int                      `json:"rowCount"`
	SQL             string                   `json:"sql,omitempty"`
	SchemaContext   string                   `json:"schemaContext,omitempty"`
	Instruction     string                   `json:"instruction,omitempty"`
}

type ExecuteResult struct {
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int                      `json:"rowCount"`
	SQL        string                   `json:"sql"`
	Cached     bool                     `json:"cached"`
	PatternKey string                   `json:"patternKey"`
}

type CacheStats struct {
	EntryCount  int      `json:"entryCount"`
	Hits        int64    `json:"hits"`
	Misses      int64    `json:"misses"`
	HitRate     float64  `json:"hitRate"`
	TopPatterns []*Entry `json:"topPatterns"`
}

func NewEngine(store Store, db *cicd.Store, extractor *Extractor, storeName string) *Engine {
	return &Engine{
		store:     store,
		db:        db,
		extractor: extractor,
		storeName: storeName,
	}
}

// Prepare is phase one: extract parameters, check the cache, and either
// serve cached results or hand back schema context for SQL generation.
func (e *Engine) Prepare(ctx context.Context, query, userID string) (*PrepareResult, error) {
	params := e.extractor.Extract(query)
	key := params.PatternKey()

	logger.Info("Prepare",
		zap.String("pattern_key", key),
		zap.String("query", query),
	)

	entry, hit, err := e.store.Get(ctx, key)
	if err != nil {
		logger.Warn("Pattern cache read failed", zap.Error(err))
	}

	if hit {
		sqlText := renderTemplate(entry.SQLTemplate, params)

		rows, err := e.db.RunQuery(ctx, sqlText)
		if err != nil {
			// A cached pattern that no longer executes is stale; drop it
			// and fall through to the miss path.
			logger.Warn("Cached pattern failed, evicting",
				zap.String("pattern_key", key),
				zap.Error(err),
			)
			e.store.Delete(ctx, key)
		} else {
			entry.HitCount++
			entry.LastUsedAt = time.Now()
			if err := e.store.Put(ctx, entry); err != nil {
				logger.Warn("Pattern cache refresh failed", zap.Error(err))
			}
			e.store.RecordHit(ctx)
			metrics.PatternCacheHits.WithLabelValues(e.storeName).Inc()

			return &PrepareResult{
				Cached:          true,
				PatternKey:      key,
				ExtractedParams: params,
				Results:         rows,
				RowCount:        len(rows),
				SQL:             sqlText,
			}, nil
		}
	}

	e.store.RecordMiss(ctx)
	metrics.PatternCacheMisses.WithLabelValues(e.storeName).Inc()

	return &PrepareResult{
		Cached:          false,
		PatternKey:      key,
		ExtractedParams: params,
		SchemaContext:   e.db.SchemaContext(),
		Instruction:     buildInstruction(params, key),
	}, nil
}

// Execute is phase two: run the generated SQL and, only on success, create
// or refresh the cache entry. A failed generation is never memoized. An
// unknown pattern key still executes; caching is then best-effort.
func (e *Engine) Execute(ctx context.Context, generatedSQL, patternKey string, confirmCache bool, userID string) (*ExecuteResult, error) {
	rows, err := e.db.RunQuery(ctx, generatedSQL)
	if err != nil {
		return nil, err
	}

	cached := false
	if confirmCache && patternKey != "" {
		params := ParamsFromKey(patternKey)
		now := time.Now()

		entry := &Entry{
			Key:         patternKey,
			SQLTemplate: parameterize(generatedSQL, params),
			CreatedBy:   userID,
			CreatedAt:   now,
			LastUsedAt:  now,
		}

		if existing, found, _ := e.store.Get(ctx, patternKey); found {
			entry.HitCount = existing.HitCount
			entry.CreatedAt = existing.CreatedAt
			if existing.CreatedBy != "" {
				entry.CreatedBy = existing.CreatedBy
			}
		}

		if err := e.store.Put(ctx, entry); err != nil {
			logger.Warn("Pattern cache write failed",
				zap.String("pattern_key", patternKey),
				zap.Error(err),
			)
		} else {
			cached = true
			logger.Info("Pattern cached",
				zap.String("pattern_key", patternKey),
			)
		}
	}

	return &ExecuteResult{
		Rows:       rows,
		RowCount:   len(rows),
		SQL:        generatedSQL,
		Cached:     cached,
		PatternKey: patternKey,
	}, nil
}

func (e *Engine) Stats(ctx context.Context) (*CacheStats, error) {
	entries, err := e.store.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	hits, misses, err := e.store.Counters(ctx)
	if err != nil {
		return nil, err
	}

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	top := entries
	if len(top) > 10 {
		top = top[:10]
	}

	return &CacheStats{
		EntryCount:  len(entries),
		Hits:        hits,
		Misses:      misses,
		HitRate:     hitRate,
		TopPatterns: top,
	}, nil
}

func (e *Engine) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.List(ctx, limit)
}

// parameterize turns a concrete SQL statement into a template by replacing
// the literal parameter values with placeholders, so one validated query
// serves every future hit on the same pattern.
func parameterize(sqlText string, params Params) string {
	out := sqlText
	if params.App != "" {
		out = replaceLiteral(out, params.App, "{{app}}")
	}
	if params.Environment != "" {
		out = replaceLiteral(out, params.Environment, "{{env}}")
	}
	return out
}

func renderTemplate(template string, params Params) string {
	out := strings.ReplaceAll(template, "{{app}}", params.App)
	out = strings.ReplaceAll(out, "{{env}}", params.Environment)
	return out
}

func replaceLiteral(sqlText, value, placeholder string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(value))
	return re.ReplaceAllString(sqlText, placeholder)
}

func buildInstruction(params Params, key string) string {
	var b strings.Builder
	b.WriteString("Generate a single SQLite SELECT statement answering the question.\n")
	b.WriteString("Constraints:\n")
	b.WriteString("- Use only the tables and columns in the schema context.\n")
	b.WriteString("- Order recent-first with ORDER BY date DESC where relevant.\n")

	if params.App != "" {
		fmt.Fprintf(&b, "- Filter app_name = '%s'.\n", params.App)
	}
	if params.Environment != "" {
		fmt.Fprintf(&b, "- Filter deploy_env = '%s'.\n", params.Environment)
	}
	if params.Window != "" {
		fmt.Fprintf(&b, "- Restrict to the time window %q.\n", params.Window)
	}
	if params.Limit > 0 {
		fmt.Fprintf(&b, "- LIMIT %d.\n", params.Limit)
	}

	fmt.Fprintf(&b, "Then call query_cicd_execute with the SQL and patternKey=%q.", key)
	return b.String()
}
