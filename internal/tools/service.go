package tools

import (
	"context"

	"github.com/kbsearch/backend/internal/feedback"
	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/nl2sql"
	"github.com/kbsearch/backend/internal/retriever"
)

// Tool names exposed through the dispatcher and the MCP surface.
const (
	ToolSearchKnowledgeBase = "search_knowledge_base"
	ToolSubmitFeedback      = "submit_feedback"
	ToolCICDPrepare         = "query_cicd_prepare"
	ToolCICDExecute         = "query_cicd_execute"
	ToolCICDCacheStats      = "query_cicd_cache_stats"
	ToolCICDCacheList       = "query_cicd_cache_list"
)

// Service binds the domain engines to tool handlers.
type Service struct {
	retriever *retriever.Engine
	feedback  *feedback.Aggregator
	nl2sql    *nl2sql.Engine
}

func NewService(ret *retriever.Engine, agg *feedback.Aggregator, sqlEngine *nl2sql.Engine) *Service {
	return &Service{
		retriever: ret,
		feedback:  agg,
		nl2sql:    sqlEngine,
	}
}

func (s *Service) RegisterAll(d *Dispatcher) {
	d.Register(ToolSearchKnowledgeBase, s.SearchKnowledgeBase)
	d.Register(ToolSubmitFeedback, s.SubmitFeedback)
	d.Register(ToolCICDPrepare, s.CICDPrepare)
	d.Register(ToolCICDExecute, s.CICDExecute)
	d.Register(ToolCICDCacheStats, s.CICDCacheStats)
	d.Register(ToolCICDCacheList, s.CICDCacheList)
}

func (s *Service) SearchKnowledgeBase(ctx context.Context, args Args) (interface{}, error) {
	query, err := args.RequireString("query")
	if err != nil {
		return nil, err
	}

	return s.retriever.Search(ctx, retriever.SearchRequest{
		Query:     query,
		Filters:   args.StringMap("filters"),
		UserID:    args.String("userId"),
		SessionID: args.String("sessionId"),
	})
}

type feedbackAck struct {
	QueryID string `json:"queryId"`
	Score   int    `json:"score"`
}

func (s *Service) SubmitFeedback(ctx context.Context, args Args) (interface{}, error) {
	queryID, err := args.RequireString("queryId")
	if err != nil {
		return nil, err
	}
	score, err := args.RequireInt("score")
	if err != nil {
		return nil, err
	}

	if err := s.feedback.Record(queryID, score, args.String("comment"), args.String("userId")); err != nil {
		return nil, err
	}

	metrics.FeedbackScore.Observe(float64(score))

	return feedbackAck{QueryID: queryID, Score: score}, nil
}

func (s *Service) CICDPrepare(ctx context.Context, args Args) (interface{}, error) {
	query, err := args.RequireString("query")
	if err != nil {
		return nil, err
	}

	return s.nl2sql.Prepare(ctx, query, args.String("userId"))
}

func (s *Service) CICDExecute(ctx context.Context, args Args) (interface{}, error) {
	sqlText, err := args.RequireString("sql")
	if err != nil {
		return nil, err
	}

	return s.nl2sql.Execute(ctx,
		sqlText,
		args.String("patternKey"),
		args.Bool("confirmCache", true),
		args.String("userId"),
	)
}

func (s *Service) CICDCacheStats(ctx context.Context, args Args) (interface{}, error) {
	return s.nl2sql.Stats(ctx)
}

type cacheListing struct {
	Entries []*nl2sql.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func (s *Service) CICDCacheList(ctx context.Context, args Args) (interface{}, error) {
	entries, err := s.nl2sql.List(ctx, args.Int("limit", 50))
	if err != nil {
		return nil, err
	}
	return cacheListing{Entries: entries, Count: len(entries)}, nil
}
