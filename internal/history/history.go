// Package history manages a logged-in user's list of past analyses.
package history

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
)

var (
	ErrLoginRequired = errors.New("login required")
	ErrLoadFailed    = errors.New(skinapi.MsgHistoryFailed)
	ErrDeleteFailed  = errors.New(skinapi.MsgDeleteFailed)
	ErrNotFound      = errors.New("analysis not found")
)

// API is the subset of the API client used for history.
type API interface {
	ListHistory(ctx context.Context, token string) ([]analysis.HistoryRecord, error)
	DeleteHistory(ctx context.Context, token string, id analysis.RecordID) (bool, error)
}

// SessionClearer drops a client's session when the API reports it expired.
type SessionClearer interface {
	Clear(clientID string) error
}

// Summary is the dashboard's headline tiles.
type Summary struct {
	Total          int
	LatestScore    float64
	LatestSeverity analysis.Severity
	HasLatest      bool
}

// View is one client's history list.
type View struct {
	clientID string
	api      API
	sessions SessionClearer

	group singleflight.Group

	mu      sync.Mutex
	records []analysis.HistoryRecord
	pending map[analysis.RecordID]bool
}

func NewView(clientID string, api API, sessions SessionClearer) *View {
	return &View{
		clientID: clientID,
		api:      api,
		sessions: sessions,
		pending:  make(map[analysis.RecordID]bool),
	}
}

// Load fetches the list. An expired session is cleared and reported as
// ErrLoginRequired. Other failures keep the previous list.
func (v *View) Load(ctx context.Context, s session.Session) ([]analysis.HistoryRecord, error) {
	if !s.LoggedIn() {
		return nil, ErrLoginRequired
	}

	records, err := v.api.ListHistory(ctx, s.Token)
	if err != nil {
		if skinapi.IsAuth(err) {
			v.expire()
			return nil, ErrLoginRequired
		}
		log.Error().Err(err).Str("client", v.clientID).Msg("failed to load history")
		return v.Records(), ErrLoadFailed
	}

	v.mu.Lock()
	v.records = records
	v.mu.Unlock()
	return v.Records(), nil
}

// Records returns a copy of the current list, latest first.
func (v *View) Records() []analysis.HistoryRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]analysis.HistoryRecord, len(v.records))
	copy(out, v.records)
	return out
}

// Summary derives the headline tiles from the current list.
func (v *View) Summary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	sum := Summary{Total: len(v.records)}
	if len(v.records) > 0 {
		sum.HasLatest = true
		sum.LatestScore = v.records[0].Score
		sum.LatestSeverity = v.records[0].Severity
	}
	return sum
}

// Pending reports whether a delete for id is in flight.
func (v *View) Pending(id analysis.RecordID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending[id]
}

// Delete removes a record. Concurrent deletes of the same id share one
// request. The list only changes when the API confirms.
func (v *View) Delete(ctx context.Context, s session.Session, id analysis.RecordID) error {
	if !s.LoggedIn() {
		return ErrLoginRequired
	}
	if _, ok := v.find(id); !ok {
		return ErrNotFound
	}

	// Joined callers must not fail because the first caller went away
	callCtx := context.WithoutCancel(ctx)
	_, err, shared := v.group.Do(string(id), func() (any, error) {
		v.setPending(id, true)
		defer v.setPending(id, false)

		ok, err := v.api.DeleteHistory(callCtx, s.Token, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDeleteFailed
		}
		v.remove(id)
		return nil, nil
	})
	if shared {
		log.Debug().Str("id", string(id)).Msg("joined in-flight delete")
	}

	switch {
	case err == nil:
		return nil
	case skinapi.IsAuth(err):
		v.expire()
		return ErrLoginRequired
	case errors.Is(err, ErrDeleteFailed):
		return ErrDeleteFailed
	default:
		log.Error().Err(err).Str("id", string(id)).Msg("failed to delete analysis")
		return ErrDeleteFailed
	}
}

// Open rebuilds the result of a stored analysis for the results view.
func (v *View) Open(id analysis.RecordID) (handoff.Entry, error) {
	rec, ok := v.find(id)
	if !ok {
		return handoff.Entry{}, ErrNotFound
	}
	return handoff.Entry{
		Result:      analysis.FromHistory(rec),
		ImageRef:    rec.ImagePath,
		FromHistory: true,
	}, nil
}

// Reset forgets the loaded list.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records = nil
}

func (v *View) find(id analysis.RecordID) (analysis.HistoryRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, rec := range v.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return analysis.HistoryRecord{}, false
}

func (v *View) remove(id analysis.RecordID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.records[:0]
	for _, rec := range v.records {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	v.records = kept
}

func (v *View) setPending(id analysis.RecordID, on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if on {
		v.pending[id] = true
	} else {
		delete(v.pending, id)
	}
}

func (v *View) expire() {
	v.Reset()
	if err := v.sessions.Clear(v.clientID); err != nil {
		log.Error().Err(err).Str("client", v.clientID).Msg("failed to clear expired session")
	}
}

// Views holds one View per client.
type Views struct {
	api      API
	sessions SessionClearer

	mu    sync.Mutex
	views map[string]*View
}

func NewViews(api API, sessions SessionClearer) *Views {
	return &Views{api: api, sessions: sessions, views: make(map[string]*View)}
}

// For returns the client's view, creating it on first use.
func (vs *Views) For(clientID string) *View {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v, ok := vs.views[clientID]
	if !ok {
		v = NewView(clientID, vs.api, vs.sessions)
		vs.views[clientID] = v
	}
	return v
}

// Forget drops the client's view, e.g. on logout.
func (vs *Views) Forget(clientID string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	delete(vs.views, clientID)
}
