package search

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned for a search answered after a newer one started.
var ErrSuperseded = errors.New("search superseded by a newer request")

// Searcher is satisfied by *Engine.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]ScoredStreet, error)
}

// Latest serializes the view of one autocomplete box: each call gets a
// sequence number, starting a call cancels the previous one, and only the
// newest call may deliver results.
type Latest struct {
	s Searcher

	mu       sync.Mutex
	seq      uint64
	cancel   context.CancelFunc
	lastUsed time.Time
}

func NewLatest(s Searcher) *Latest { return &Latest{s: s} }

func (l *Latest) Search(ctx context.Context, term string, limit int) ([]ScoredStreet, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	l.seq++
	mine := l.seq
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.lastUsed = time.Now()
	l.mu.Unlock()

	res, err := l.s.Search(ctx, term, limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq != mine {
		return nil, ErrSuperseded
	}
	l.cancel = nil
	return res, err
}


// Sessions hands out one Latest per client session and forgets sessions
// idle for longer than ttl.
type Sessions struct {
	s   Searcher
	ttl time.Duration

	mu    sync.Mutex
	byID  map[string]*Latest
	now   func() time.Time
	swept time.Time
}

func NewSessions(s Searcher, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{s: s, ttl: ttl, byID: make(map[string]*Latest), now: time.Now}
}

func (ss *Sessions) For(id string) *Latest {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now()
	if now.Sub(ss.swept) > ss.ttl {
		for k, l := range ss.byID {
			l.mu.Lock()
			idle := now.Sub(l.lastUsed) > ss.ttl && l.cancel == nil
			l.mu.Unlock()
			if idle {
				delete(ss.byID, k)
			}
		}
		ss.swept = now
	}

	l, ok := ss.byID[id]
	if !ok {
		l = NewLatest(ss.s)
		l.lastUsed = now
		ss.byID[id] = l
	}
	return l
}

func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.byID)
}
