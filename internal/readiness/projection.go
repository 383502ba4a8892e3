// Package readiness maintains the per-candidate readiness projection: the
// derived state answering "has this candidate satisfied every precondition to
// merge". The projection is in-memory and rebuilt entirely by replaying the
// event log (or a snapshot plus the log tail), so a process restart never
// loses in-flight candidates.
package readiness

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dyluth/drey/pkg/journal"
)

// Candidate is the projection's view of one merge candidate.
type Candidate struct {
	Ref        journal.CandidateRef   `json:"ref"`
	Conditions map[string]bool        `json:"conditions"` // Satisfied condition names
	State      journal.CandidateState `json:"state"`
	ReadyAtMs  int64                  `json:"ready_at_ms,omitempty"`
}

// clone returns a copy safe to hand outside the projection lock.
func (c *Candidate) clone() *Candidate {
	conditions := make(map[string]bool, len(c.Conditions))
	for k, v := range c.Conditions {
		conditions[k] = v
	}
	return &Candidate{Ref: c.Ref, Conditions: conditions, State: c.State, ReadyAtMs: c.ReadyAtMs}
}

// Projection aggregates satisfied readiness conditions per candidate.
// Live candidates are keyed by slug and created lazily on the first relevant
// event; candidate identity is the full (slug, branch, sha) ref. A finished
// attempt is archived under its ref when a new commit for the slug shows up,
// so a failed candidate can be fixed and resubmitted while replays of the old
// attempt's events stay inert. Safe for concurrent use.
type Projection struct {
	mu         sync.RWMutex
	required   []string
	rules      map[string]string // event type -> condition name
	candidates map[string]*Candidate
	archived   map[string]*Candidate // finished attempts, keyed by full ref
}

// NewProjection creates a projection for the given required condition set and
// event-to-condition trigger rules (both from workflow configuration).
func NewProjection(requiredConditions []string, rules map[string]string) (*Projection, error) {
	if len(requiredConditions) == 0 {
		return nil, fmt.Errorf("required condition set cannot be empty")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("trigger rules cannot be empty")
	}

	required := make([]string, len(requiredConditions))
	copy(required, requiredConditions)

	ruleCopy := make(map[string]string, len(rules))
	for eventType, condition := range rules {
		ruleCopy[eventType] = condition
	}

	return &Projection{
		required:   required,
		rules:      ruleCopy,
		candidates: make(map[string]*Candidate),
		archived:   make(map[string]*Candidate),
	}, nil
}

// Outcome describes the effect of applying one event to the projection.
type Outcome struct {
	Relevant    bool                 // The event touched a candidate
	BecameReady bool                 // The candidate transitioned pending -> ready on this event
	Ref         journal.CandidateRef // Candidate identity after the event (branch/sha filled when known)
	ReadyAtMs   int64
}

// Apply folds one envelope into the projection. It is idempotent: re-marking
// an already satisfied condition is a no-op, and the pending -> ready
// transition fires at most once per candidate no matter how events are
// duplicated or reordered.
//
// Apply mutates only in-memory state. Side effects (enqueue, integrator wake)
// belong to the trigger cartridge.
func (p *Projection) Apply(envelope *journal.EventEnvelope, nowMs int64) Outcome {
	switch envelope.EventType {
	case journal.EventDeploymentCompleted:
		return p.finish(envelope, journal.CandidateDone)
	case journal.EventDeploymentFailed:
		return p.finish(envelope, journal.CandidateFailed)
	}

	condition, ok := p.rules[envelope.EventType]
	if !ok {
		return Outcome{}
	}

	slug := envelope.Payload["slug"]
	if slug == "" {
		return Outcome{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidate := p.candidate(slug)

	if candidate.State.Terminal() {
		sha := envelope.Payload["sha"]
		if sha == "" || sha == candidate.Ref.SHA {
			// Late or replayed events for the finished attempt stay inert
			return Outcome{Relevant: true, Ref: candidate.Ref}
		}
		// A new commit supersedes the finished attempt: archive it under its
		// ref and start a fresh candidate for the slug
		candidate = p.retire(slug, candidate)
	}

	p.fillRef(candidate, envelope)

	// First write wins; re-marking is a no-op
	if !candidate.Conditions[condition] {
		candidate.Conditions[condition] = true
	}

	outcome := Outcome{Relevant: true, Ref: candidate.Ref}

	if candidate.State == journal.CandidatePending && p.allSatisfied(candidate) {
		candidate.State = journal.CandidateReady
		candidate.ReadyAtMs = nowMs
		outcome.BecameReady = true
		outcome.ReadyAtMs = nowMs
	}

	return outcome
}

// finish moves a candidate to a terminal state on a completion or failure
// event. Unknown slugs are ignored: the integrator may complete candidates
// from an earlier projection generation.
func (p *Projection) finish(envelope *journal.EventEnvelope, state journal.CandidateState) Outcome {
	slug := envelope.Payload["slug"]
	if slug == "" {
		return Outcome{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidate, ok := p.candidates[slug]
	if !ok {
		return Outcome{}
	}
	if sha := envelope.Payload["sha"]; sha != "" && candidate.Ref.SHA != "" && sha != candidate.Ref.SHA {
		// Terminal event for an earlier attempt; the live candidate carries a
		// different commit
		return Outcome{}
	}
	if candidate.State.Terminal() {
		return Outcome{Relevant: true, Ref: candidate.Ref}
	}

	candidate.State = state
	return Outcome{Relevant: true, Ref: candidate.Ref}
}

// MarkQueued records that a candidate's queue entry exists.
func (p *Projection) MarkQueued(slug string) {
	p.setState(slug, journal.CandidateQueued, journal.CandidateReady)
}

// MarkProcessing records that the integrator picked the candidate up.
func (p *Projection) MarkProcessing(slug string) {
	p.setState(slug, journal.CandidateProcessing, journal.CandidateQueued)
}

// setState transitions slug to next if it is currently in from.
func (p *Projection) setState(slug string, next, from journal.CandidateState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if candidate, ok := p.candidates[slug]; ok && candidate.State == from {
		candidate.State = next
	}
}

// Candidate returns a copy of the candidate for slug, or nil if unknown.
func (p *Projection) Candidate(slug string) *Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if candidate, ok := p.candidates[slug]; ok {
		return candidate.clone()
	}
	return nil
}

// Candidates returns copies of all tracked candidates. Order is unspecified.
func (p *Projection) Candidates() []*Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Candidate, 0, len(p.candidates))
	for _, candidate := range p.candidates {
		result = append(result, candidate.clone())
	}
	return result
}

// candidate returns the tracked candidate for slug, creating it lazily.
// Caller must hold the write lock.
func (p *Projection) candidate(slug string) *Candidate {
	if existing, ok := p.candidates[slug]; ok {
		return existing
	}
	created := &Candidate{
		Ref:        journal.CandidateRef{Slug: slug},
		Conditions: make(map[string]bool),
		State:      journal.CandidatePending,
	}
	p.candidates[slug] = created
	return created
}

// retire archives a finished candidate under its full ref and opens a fresh
// pending candidate for the slug. Caller must hold the write lock.
func (p *Projection) retire(slug string, old *Candidate) *Candidate {
	p.archived[old.Ref.String()] = old
	delete(p.candidates, slug)
	return p.candidate(slug)
}

// fillRef records branch and sha from whichever event first carries them.
// Caller must hold the write lock.
func (p *Projection) fillRef(candidate *Candidate, envelope *journal.EventEnvelope) {
	if branch := envelope.Payload["branch"]; branch != "" && candidate.Ref.Branch == "" {
		candidate.Ref.Branch = branch
	}
	if sha := envelope.Payload["sha"]; sha != "" && candidate.Ref.SHA == "" {
		candidate.Ref.SHA = sha
	}
}

// allSatisfied reports whether every required condition is marked.
// Caller must hold the lock.
func (p *Projection) allSatisfied(candidate *Candidate) bool {
	for _, condition := range p.required {
		if !candidate.Conditions[condition] {
			return false
		}
	}
	return true
}

// snapshot is the persisted form of the projection.
type snapshot struct {
	Cursor     string                `json:"cursor"`
	Candidates map[string]*Candidate `json:"candidates"`
	Archived   map[string]*Candidate `json:"archived,omitempty"`
}

// Encode serializes the projection state together with the log cursor the
// state is valid at.
func (p *Projection) Encode(cursor string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, err := json.Marshal(&snapshot{Cursor: cursor, Candidates: p.candidates, Archived: p.archived})
	if err != nil {
		return nil, fmt.Errorf("failed to encode projection snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the projection state from an encoded snapshot and returns
// the cursor the snapshot was taken at.
func (p *Projection) Restore(data []byte) (string, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return "", fmt.Errorf("failed to decode projection snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.candidates = snap.Candidates
	if p.candidates == nil {
		p.candidates = make(map[string]*Candidate)
	}
	p.archived = snap.Archived
	if p.archived == nil {
		p.archived = make(map[string]*Candidate)
	}
	for _, candidate := range p.candidates {
		if candidate.Conditions == nil {
			candidate.Conditions = make(map[string]bool)
		}
	}
	return snap.Cursor, nil
}
