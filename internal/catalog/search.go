package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	appstrings "mcpmux/pkg/strings"
)

// DefaultSearchLimit and MaxSearchLimit bound the limit parameter accepted
// by search_mcps.
const (
	DefaultSearchLimit = 4
	MaxSearchLimit     = 10
	MinSearchLimit     = 1
)

// ClampLimit normalizes a requested result count into [MinSearchLimit, MaxSearchLimit],
// defaulting to DefaultSearchLimit when limit is 0.
func ClampLimit(limit int) int {
	if limit == 0 {
		return DefaultSearchLimit
	}
	if limit < MinSearchLimit {
		return MinSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}

// Search implements search_mcps: cosine similarity over embeddings when a
// provider is configured and the query embeds successfully, otherwise a
// keyword score. Results are sorted by score descending, ties broken
// lexicographically by name.
func (r *Registry) Search(ctx context.Context, query string, limit int, provider EmbeddingsProvider) ([]SearchResult, error) {
	limit = ClampLimit(limit)

	entries, err := r.All()
	if err != nil {
		return nil, err
	}

	if provider != nil {
		if vec, err := provider.Embed(ctx, query); err == nil {
			return r.searchByEmbedding(entries, vec, limit), nil
		}
	}

	return r.searchByKeyword(entries, query, limit), nil
}

func (r *Registry) searchByEmbedding(entries []Entry, queryVec []float32, limit int) []SearchResult {
	var results []SearchResult
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(queryVec, e.Embedding)
		results = append(results, SearchResult{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			Score:       clamp01(sim),
			Similarity:  sim,
			Distance:    1 - sim,
			Summary:     summarize(e, sim),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (r *Registry) searchByKeyword(entries []Entry, query string, limit int) []SearchResult {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	words := wordsOver2Chars(queryLower)

	var results []SearchResult
	for _, e := range entries {
		score := keywordScore(e, queryLower, words)
		normalized := clamp01(score / 100.0)
		results = append(results, SearchResult{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			Score:       normalized,
			Summary:     summarize(e, normalized),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// keywordScore implements the point table from the keyword-fallback branch
// of search_mcps: exact name match, display-name/summary/use-case/tool
// substring hits, and per-query-word summary hits.
func keywordScore(e Entry, queryLower string, words []string) float64 {
	var score float64

	nameLower := strings.ToLower(e.Name)
	displayLower := strings.ToLower(e.DisplayName)
	summaryLower := strings.ToLower(e.AISummary)

	if nameLower == queryLower {
		score += 100
	}
	if displayLower != "" && strings.Contains(displayLower, queryLower) {
		score += 50
	}
	if summaryLower != "" && strings.Contains(summaryLower, queryLower) {
		score += 40
	}
	for _, uc := range e.UseCases {
		if strings.Contains(strings.ToLower(uc), queryLower) {
			score += 30
		}
	}
	for _, t := range e.ToolsMeta {
		if strings.Contains(strings.ToLower(t.Name), queryLower) {
			score += 20
		}
		if strings.Contains(strings.ToLower(t.Description), queryLower) {
			score += 15
		}
	}
	for _, w := range words {
		if strings.Contains(summaryLower, w) {
			score += 10
		}
	}

	return score
}

func wordsOver2Chars(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		if len([]rune(w)) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// summarize builds the concise agent-facing result string: display name,
// rounded percent match, description, and the first 6 tool names plus a
// "+N more" suffix.
func summarize(e Entry, score float64) string {
	percent := int(score*100 + 0.5)

	desc := e.Description
	if desc == "" {
		desc = e.AISummary
	}
	desc = appstrings.TruncateDescription(desc, appstrings.DefaultDescriptionMaxLen)

	toolNames := make([]string, 0, len(e.ToolsMeta))
	for _, t := range e.ToolsMeta {
		toolNames = append(toolNames, t.Name)
	}

	const maxListed = 6
	var toolsPart string
	if len(toolNames) == 0 {
		toolsPart = "no cached tools"
	} else if len(toolNames) <= maxListed {
		toolsPart = strings.Join(toolNames, ", ")
	} else {
		more := len(toolNames) - maxListed
		toolsPart = strings.Join(toolNames[:maxListed], ", ") + " +" + strconv.Itoa(more) + " more"
	}

	return fmt.Sprintf("%s (%d%% match): %s [tools: %s]", e.DisplayName, percent, desc, toolsPart)
}
