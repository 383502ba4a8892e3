package journal

import (
	"fmt"
	"strings"
)

// Level classifies how significant an event is to a human operator.
type Level string

const (
	// LevelDebug marks diagnostic events that never surface to humans
	LevelDebug Level = "debug"

	// LevelWorkflow marks coordination events (conditions, transitions)
	LevelWorkflow Level = "workflow"

	// LevelBusiness marks events a human may need to act on
	LevelBusiness Level = "business"
)

// Validate checks if the Level is a valid enum value.
func (l Level) Validate() error {
	switch l {
	case LevelDebug, LevelWorkflow, LevelBusiness:
		return nil
	default:
		return fmt.Errorf("unknown level: %q", l)
	}
}

// EventEnvelope is a single event appended to the durable log.
// Envelopes are immutable once appended: the log assigns the Offset and it is
// never rewritten. Payload values are hashed in the order declared by the
// schema's IdempotencyFields, so Go map iteration order is immaterial.
type EventEnvelope struct {
	EventType      string            `json:"event_type"`      // Schema identifier, e.g. "domain.software-development.review.approved"
	Domain         string            `json:"domain"`          // Event domain, e.g. "software-development"
	Level          Level             `json:"level"`           // Significance (from schema unless overridden at emit)
	Payload        map[string]string `json:"payload"`         // Event data keyed by field name
	IdempotencyKey string            `json:"idempotency_key"` // Derived from declared payload fields
	Offset         string            `json:"offset"`          // Redis stream ID, monotonic, assigned on append
	Source         string            `json:"source"`          // Component that emitted the event
	EmittedAtMs    int64             `json:"emitted_at_ms"`   // Unix timestamp in milliseconds
}

// Validate checks if the EventEnvelope has valid field values.
// Offset is allowed to be empty: it is assigned by the log on append.
func (e *EventEnvelope) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if err := e.Level.Validate(); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("idempotency key cannot be empty")
	}
	if e.Source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	return nil
}

// NotificationLifecycle declares how an event type drives notification
// records. It is data on the schema: the projector interprets the declaration
// generically, there is no per-event-type notification code.
type NotificationLifecycle struct {
	Creates          bool     `json:"creates" yaml:"creates"`                     // Opens a record for the group key if none is open
	Updates          bool     `json:"updates" yaml:"updates"`                     // Updates the open record when meaningful fields change
	Resolves         bool     `json:"resolves" yaml:"resolves"`                   // Terminally resolves the open record
	GroupKeyField    string   `json:"group_key_field" yaml:"group_key_field"`     // Payload field holding the notification group key
	MeaningfulFields []string `json:"meaningful_fields" yaml:"meaningful_fields"` // Payload fields whose change is visible to humans
}

// Validate checks if the NotificationLifecycle declaration is coherent.
func (nl *NotificationLifecycle) Validate() error {
	if !nl.Creates && !nl.Updates && !nl.Resolves {
		return fmt.Errorf("lifecycle must declare at least one of creates/updates/resolves")
	}
	if nl.GroupKeyField == "" {
		return fmt.Errorf("lifecycle group_key_field cannot be empty")
	}
	return nil
}

// EventSchema is the registered definition of an event type.
// Schemas are registered once; re-registering the same type with a different
// definition fails with ErrSchemaConflict.
type EventSchema struct {
	EventType         string                 `json:"event_type" yaml:"event_type"`
	Domain            string                 `json:"domain" yaml:"domain"`
	IdempotencyFields []string               `json:"idempotency_fields" yaml:"idempotency_fields"` // Ordered payload keys hashed into the idempotency key
	DefaultLevel      Level                  `json:"default_level" yaml:"default_level"`
	Lifecycle         *NotificationLifecycle `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
}

// Validate checks if the EventSchema has valid field values.
func (s *EventSchema) Validate() error {
	if s.EventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if len(s.IdempotencyFields) == 0 {
		return fmt.Errorf("schema for %s must declare at least one idempotency field", s.EventType)
	}
	if err := s.DefaultLevel.Validate(); err != nil {
		return fmt.Errorf("invalid default level: %w", err)
	}
	if s.Lifecycle != nil {
		if err := s.Lifecycle.Validate(); err != nil {
			return fmt.Errorf("invalid lifecycle: %w", err)
		}
	}
	return nil
}

// Equal reports whether two schema definitions are identical.
// Used by the catalog to distinguish idempotent re-registration from conflict.
func (s *EventSchema) Equal(other *EventSchema) bool {
	if s.EventType != other.EventType || s.Domain != other.Domain || s.DefaultLevel != other.DefaultLevel {
		return false
	}
	if len(s.IdempotencyFields) != len(other.IdempotencyFields) {
		return false
	}
	for i, f := range s.IdempotencyFields {
		if other.IdempotencyFields[i] != f {
			return false
		}
	}
	if (s.Lifecycle == nil) != (other.Lifecycle == nil) {
		return false
	}
	if s.Lifecycle != nil {
		a, b := s.Lifecycle, other.Lifecycle
		if a.Creates != b.Creates || a.Updates != b.Updates || a.Resolves != b.Resolves || a.GroupKeyField != b.GroupKeyField {
			return false
		}
		if len(a.MeaningfulFields) != len(b.MeaningfulFields) {
			return false
		}
		for i, f := range a.MeaningfulFields {
			if b.MeaningfulFields[i] != f {
				return false
			}
		}
	}
	return true
}

// DedupRecord marks an idempotency key as processed.
// Write-once: the atomic insert of this record is the duplicate check.
type DedupRecord struct {
	Offset   string `json:"offset"`     // Log offset of the first delivery
	SeenAtMs int64  `json:"seen_at_ms"` // Unix timestamp in milliseconds
}

// CandidateRef identifies a merge candidate: a prepared feature branch at a
// specific commit. Branch and SHA may be empty until an event supplies them.
type CandidateRef struct {
	Slug   string `json:"slug"`
	Branch string `json:"branch,omitempty"`
	SHA    string `json:"sha,omitempty"`
}

// Validate checks if the CandidateRef has a usable identity.
func (r CandidateRef) Validate() error {
	if r.Slug == "" {
		return fmt.Errorf("candidate slug cannot be empty")
	}
	if strings.ContainsRune(r.Slug, '|') || strings.ContainsRune(r.Branch, '|') {
		return fmt.Errorf("candidate fields cannot contain '|'")
	}
	return nil
}

// String encodes the ref as a stable queue member: slug|branch|sha.
func (r CandidateRef) String() string {
	return r.Slug + "|" + r.Branch + "|" + r.SHA
}

// ParseCandidateRef decodes a queue member produced by CandidateRef.String.
func ParseCandidateRef(s string) (CandidateRef, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return CandidateRef{}, fmt.Errorf("malformed candidate ref: %q", s)
	}
	ref := CandidateRef{Slug: parts[0], Branch: parts[1], SHA: parts[2]}
	if err := ref.Validate(); err != nil {
		return CandidateRef{}, err
	}
	return ref, nil
}

// CandidateState is the lifecycle state of a merge candidate.
type CandidateState string

const (
	// CandidatePending means the candidate is accumulating readiness conditions
	CandidatePending CandidateState = "pending"

	// CandidateReady means all required conditions are satisfied
	CandidateReady CandidateState = "ready"

	// CandidateQueued means the candidate sits in the integration queue
	CandidateQueued CandidateState = "queued"

	// CandidateProcessing means the integrator is merging the candidate
	CandidateProcessing CandidateState = "processing"

	// CandidateDone is terminal: the candidate was merged
	CandidateDone CandidateState = "done"

	// CandidateFailed is terminal: the merge was blocked and set aside
	CandidateFailed CandidateState = "failed"
)

// Validate checks if the CandidateState is a valid enum value.
func (cs CandidateState) Validate() error {
	switch cs {
	case CandidatePending, CandidateReady, CandidateQueued,
		CandidateProcessing, CandidateDone, CandidateFailed:
		return nil
	default:
		return fmt.Errorf("unknown candidate state: %q", cs)
	}
}

// Terminal reports whether the state admits no further transitions.
func (cs CandidateState) Terminal() bool {
	return cs == CandidateDone || cs == CandidateFailed
}

// QueueEntry is a READY candidate waiting in the integration queue.
// Entries are removed only by explicit ack after processing completes.
type QueueEntry struct {
	Ref       CandidateRef `json:"ref"`
	ReadyAtMs int64        `json:"ready_at_ms"` // ZSET score: FIFO by readiness time
}

// Lease is the integration lease: the distributed mutual-exclusion primitive
// guarding the canonical integration ref. At most one non-expired lease
// exists system-wide. Expiry is enforced by the Redis key TTL.
type Lease struct {
	HolderID string `json:"holder_id"`
	Token    int64  `json:"token"` // Fencing token, strictly increasing across acquisitions
}

// NotificationStatus is the visible state of a notification record.
type NotificationStatus string

const (
	// NotificationUnseen means the record needs human attention
	NotificationUnseen NotificationStatus = "unseen"

	// NotificationInProgress means work is underway, no action needed yet
	NotificationInProgress NotificationStatus = "in_progress"

	// NotificationResolved is terminal: the underlying work finished
	NotificationResolved NotificationStatus = "resolved"
)

// Validate checks if the NotificationStatus is a valid enum value.
func (ns NotificationStatus) Validate() error {
	switch ns {
	case NotificationUnseen, NotificationInProgress, NotificationResolved:
		return nil
	default:
		return fmt.Errorf("unknown notification status: %q", ns)
	}
}

// NotificationRecord is the deduplicated, human-facing status record for a
// notification group. A group key maps to at most one open (unresolved)
// record at a time.
type NotificationRecord struct {
	GroupKey       string             `json:"group_key"`
	Status         NotificationStatus `json:"status"`
	LastMeaningful map[string]string  `json:"last_meaningful"` // Snapshot of the schema's meaningful fields
	CreatedAtMs    int64              `json:"created_at_ms"`
	UpdatedAtMs    int64              `json:"updated_at_ms"`
	ResolvedAtMs   int64              `json:"resolved_at_ms,omitempty"`
}

// Open reports whether the record can still absorb updates.
func (n *NotificationRecord) Open() bool {
	return n.Status != NotificationResolved
}

// Validate checks if the NotificationRecord has valid field values.
func (n *NotificationRecord) Validate() error {
	if n.GroupKey == "" {
		return fmt.Errorf("notification group key cannot be empty")
	}
	if err := n.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	return nil
}

// DeltaKind classifies a notification state change published to the
// delivery fanout.
type DeltaKind string

const (
	// DeltaCreated means a new record was opened
	DeltaCreated DeltaKind = "created"

	// DeltaUpdated means an open record's meaningful snapshot changed
	DeltaUpdated DeltaKind = "updated"

	// DeltaResolved means a record reached its terminal state
	DeltaResolved DeltaKind = "resolved"
)

// NotificationDelta is the unit handed to the outbound delivery transport.
// Rendering and transport live outside this core.
type NotificationDelta struct {
	Kind   DeltaKind          `json:"kind"`
	Record NotificationRecord `json:"record"`
}
