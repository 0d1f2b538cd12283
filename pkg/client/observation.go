package client

import (
	"sync"

	"github.com/lwm2m-go/lwm2m/pkg/path"
)

// Observation is one active GET-Observe registration: a path the
// dispatcher watches for changes, keyed together with the CoAP token
// the triggering GET carried (spec.md §4.7).
type Observation struct {
	Path  *path.Path
	Token string
	seq   uint32
}

// Sequence returns the next Observe option value for this observation,
// incrementing the monotonic per-observation counter.
func (o *Observation) Sequence() uint32 {
	o.seq++
	return o.seq
}

type observationKey struct {
	path  string
	token string
}

// Table is the client's observation table: every (path, token) pair
// currently being watched, scanned on every write/create/delete or
// explicit notify_observers call to find which observers a change
// concerns.
type Table struct {
	mu           sync.Mutex
	observations map[observationKey]*Observation
}

// NewTable creates an empty observation table.
func NewTable() *Table {
	return &Table{observations: make(map[observationKey]*Observation)}
}

// Add installs an observation on p keyed by token, replacing any
// existing observation for the same (path, token) pair.
func (t *Table) Add(p *path.Path, token []byte) *Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := observationKey{path: p.String(), token: string(token)}
	obs := &Observation{Path: p, Token: string(token)}
	t.observations[key] = obs
	return obs
}

// Remove deletes the observation for (path, token), reporting whether
// one existed.
func (t *Table) Remove(p *path.Path, token []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := observationKey{path: p.String(), token: string(token)}
	if _, ok := t.observations[key]; !ok {
		return false
	}
	delete(t.observations, key)
	return true
}

// Count returns the number of active observations.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observations)
}

// Matching returns every observation whose path is a prefix of, equal
// to, or a descendant of changed — the scan spec.md §4.7 describes for
// dispatching a notification after a write, create, delete, or an
// explicit notify_observers(paths) call.
func (t *Table) Matching(changed *path.Path) []*Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var matches []*Observation
	for _, obs := range t.observations {
		if obs.Path.HasPrefix(changed) || changed.HasPrefix(obs.Path) {
			matches = append(matches, obs)
		}
	}
	return matches
}
