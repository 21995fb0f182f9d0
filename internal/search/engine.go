// Package search ranks Georef street records against a free-text query.
package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/normalize"
	"delivery-geolocation/pkg/logging"
	"delivery-geolocation/pkg/metrics"
)

const (
	DefaultLimit = 10

	// fewer unique raw hits than this triggers variant queries
	minRawHits = 3

	ScoreRaw       = 100
	ScorePrincipal = 95
	ScoreExact     = 90
	ScoreContains  = 80
	ScoreOverlap   = 60
	ScoreFallback  = 30
	overlapBonus   = 15
)

// ScoredStreet is a street with its relevance for one query.
type ScoredStreet struct {
	georef.Street
	Score     int    `json:"score"`
	MatchedBy string `json:"matched_by"`
}

// VariantReport describes one upstream query made for a search.
type VariantReport struct {
	Term    string `json:"term"`
	Hits    int    `json:"hits"`
	NewHits int    `json:"new_hits"`
	Err     string `json:"error,omitempty"`
}

// Report is a search result plus the queries that produced it.
type Report struct {
	Query    string          `json:"query"`
	Queries  []VariantReport `json:"queries"`
	Results  []ScoredStreet  `json:"results"`
	Limit    int             `json:"limit"`
	Variants []string        `json:"variants"`
}

type Engine struct {
	src georef.StreetSource
	log *logging.ComponentLogger

	mSearches *metrics.Counter
	mVariants *metrics.Counter
	mEmpty    *metrics.Counter
}

func NewEngine(src georef.StreetSource, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		src:       src,
		log:       log.WithComponent("search"),
		mSearches: metrics.Default.Counter("search_requests_total", "Street searches"),
		mVariants: metrics.Default.Counter("search_variant_queries_total", "Variant queries issued"),
		mEmpty:    metrics.Default.Counter("search_empty_results_total", "Searches without results"),
	}
}

// Search returns at most limit streets for term, best first.
// Terms shorter than two characters after normalization return nothing
// without contacting Georef.
func (e *Engine) Search(ctx context.Context, term string, limit int) ([]ScoredStreet, error) {
	r, err := e.Explain(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	return r.Results, nil
}

// Explain runs a search and reports every upstream query it made.
func (e *Engine) Explain(ctx context.Context, term string, limit int) (*Report, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := normalize.Normalize(term)
	rep := &Report{Query: q, Limit: limit, Results: []ScoredStreet{}}
	if utf8.RuneCountInString(q) < normalize.MinTermLength {
		return rep, nil
	}
	e.mSearches.Inc(1)
	log := e.log.WithContext(ctx)

	raw := strings.TrimSpace(term)
	seen := make(map[string]struct{})
	add := func(s georef.Street, score int, by string) bool {
		if _, dup := seen[s.ID]; dup {
			return false
		}
		seen[s.ID] = struct{}{}
		rep.Results = append(rep.Results, ScoredStreet{Street: s, Score: score, MatchedBy: by})
		return true
	}

	page, err := e.src.SearchStreets(ctx, georef.StreetQuery{Name: raw, Max: limit})
	if err != nil {
		return nil, err
	}
	vr := VariantReport{Term: raw, Hits: len(page.Streets)}
	for _, s := range page.Streets {
		if len(rep.Results) >= limit {
			break
		}
		if add(s, ScoreRaw, raw) {
			vr.NewHits++
		}
	}
	rep.Queries = append(rep.Queries, vr)

	if len(rep.Results) < minRawHits {
		rep.Variants = normalize.Variants(term)
		for _, v := range rep.Variants {
			if len(rep.Results) >= limit {
				break
			}
			if v == raw {
				continue
			}
			e.mVariants.Inc(1)
			page, err := e.src.SearchStreets(ctx, georef.StreetQuery{Name: v, Max: limit})
			if err != nil {
				log.Warn("variant query failed", logging.String("variant", v), logging.Error(err))
				rep.Queries = append(rep.Queries, VariantReport{Term: v, Err: err.Error()})
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			vr := VariantReport{Term: v, Hits: len(page.Streets)}
			for _, s := range page.Streets {
				if len(rep.Results) >= limit {
					break
				}
				if add(s, Score(q, s), v) {
					vr.NewHits++
				}
			}
			rep.Queries = append(rep.Queries, vr)
		}
	}

	Sort(rep.Results)
	if len(rep.Results) == 0 {
		e.mEmpty.Inc(1)
	}
	log.Debug("street search",
		logging.String("query", q),
		logging.Int("queries", len(rep.Queries)),
		logging.Int("results", len(rep.Results)))
	return rep, nil
}

// Score rates a street found through a variant against the normalized query.
func Score(query string, s georef.Street) int {
	name := normalize.Normalize(s.Name)
	switch {
	case normalize.PrincipalName(s.Name) == query:
		return ScorePrincipal
	case name == query || normalize.Normalize(s.Nomenclature) == query:
		return ScoreExact
	case name != "" && (strings.Contains(name, query) || strings.Contains(query, name)):
		return ScoreContains
	}

	qt := strings.Fields(query)
	nt := make(map[string]struct{})
	for _, t := range strings.Fields(name) {
		nt[t] = struct{}{}
	}
	overlap := 0
	for _, t := range qt {
		if _, ok := nt[t]; ok {
			overlap++
		}
	}
	if overlap > 0 {
		return ScoreOverlap + int(math.Round(overlapBonus*float64(overlap)/float64(len(qt))))
	}
	return ScoreFallback
}

// Sort orders by score descending, then normalized name, then ID.
func Sort(rs []ScoredStreet) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		ni, nj := normalize.Normalize(rs[i].Name), normalize.Normalize(rs[j].Name)
		if ni != nj {
			return ni < nj
		}
		return rs[i].ID < rs[j].ID
	})
}
