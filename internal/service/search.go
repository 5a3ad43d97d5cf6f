package service

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/query"
)

const MaxTopK = 20

type SearchInput struct {
	IndexName string   `json:"index_name" validate:"required"`
	Query     string   `json:"query" validate:"required"`
	Keywords  []string `json:"keywords"`
	TopK      int      `json:"top_k" validate:"gte=0,lte=20"`
}

type SearchService struct {
	orchestrator *query.Orchestrator
	defaultTopK  int
}

// Search rejects malformed requests. Once a request is valid it always
// succeeds; retrieval failures degrade to the fallback tiers.
func (s *SearchService) Search(ctx context.Context, in SearchInput) (common.SearchResult, error) {
	req, err := s.request(in)
	if err != nil {
		return common.SearchResult{}, err
	}
	return s.orchestrator.Search(ctx, req), nil
}

// SearchTraced is Search with the tier trace of the call.
func (s *SearchService) SearchTraced(ctx context.Context, in SearchInput) (common.SearchResult, query.QueryTraceSnapshot, error) {
	req, err := s.request(in)
	if err != nil {
		return common.SearchResult{}, query.QueryTraceSnapshot{}, err
	}
	trace := query.NewQueryTrace()
	res := s.orchestrator.SearchTraced(ctx, req, trace)
	return res, trace.Snapshot(), nil
}

func (s *SearchService) request(in SearchInput) (query.Request, error) {
	index := strings.TrimSpace(in.IndexName)
	if index == "" {
		return query.Request{}, common.Validation("search", "index_name is required")
	}
	q := strings.TrimSpace(in.Query)
	if q == "" {
		return query.Request{}, common.Validation("search", "query is required")
	}
	topK := in.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}
	if topK == 0 {
		topK = query.DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return query.Request{}, common.Validation("search", "top_k must be between 1 and %d", MaxTopK)
	}
	var keywords []string
	for _, kw := range in.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return query.Request{IndexName: index, Query: q, Keywords: keywords, TopK: topK}, nil
}
