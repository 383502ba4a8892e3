package journal

import (
	"fmt"
	"sync"
)

// Catalog is the static registry of event-type schemas.
// Registration is first-writer-wins: registering an identical definition
// again is a no-op, registering a different one fails with ErrSchemaConflict.
// The catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*EventSchema
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string]*EventSchema)}
}

// Register adds a schema to the catalog.
// Returns ErrSchemaConflict if the event type is already registered with a
// different definition.
func (c *Catalog) Register(schema *EventSchema) error {
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.schemas[schema.EventType]; ok {
		if existing.Equal(schema) {
			return nil
		}
		return fmt.Errorf("%w: %s already registered with a different definition", ErrSchemaConflict, schema.EventType)
	}

	c.schemas[schema.EventType] = schema
	return nil
}

// Get returns the schema for an event type.
// Returns ErrUnknownEventType if no schema is registered.
func (c *Catalog) Get(eventType string) (*EventSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schema, ok := c.schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	return schema, nil
}

// Types returns all registered event types. Order is unspecified.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.schemas))
	for t := range c.schemas {
		types = append(types, t)
	}
	return types
}

// Well-known software-delivery event types.
const (
	EventReviewApproved      = "domain.software-development.review.approved"
	EventDeploymentStarted   = "domain.software-development.deployment.started"
	EventDeploymentCompleted = "domain.software-development.deployment.completed"
	EventDeploymentFailed    = "domain.software-development.deployment.failed"
)

const softwareDevelopmentDomain = "software-development"

// DefaultCatalog returns a catalog pre-loaded with the software-delivery
// wire-contract schemas. These payload fields are the stable cross-boundary
// contract with chat/UI adapters and worker sessions.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	builtins := []*EventSchema{
		{
			EventType:         EventReviewApproved,
			Domain:            softwareDevelopmentDomain,
			IdempotencyFields: []string{"slug", "review_round"},
			DefaultLevel:      LevelWorkflow,
		},
		{
			EventType:         EventDeploymentStarted,
			Domain:            softwareDevelopmentDomain,
			IdempotencyFields: []string{"slug", "sha"},
			DefaultLevel:      LevelBusiness,
			Lifecycle: &NotificationLifecycle{
				Creates:       true,
				GroupKeyField: "slug",
			},
		},
		{
			EventType:         EventDeploymentCompleted,
			Domain:            softwareDevelopmentDomain,
			IdempotencyFields: []string{"slug", "merge_commit"},
			DefaultLevel:      LevelBusiness,
			Lifecycle: &NotificationLifecycle{
				Resolves:      true,
				GroupKeyField: "slug",
			},
		},
		{
			EventType:         EventDeploymentFailed,
			Domain:            softwareDevelopmentDomain,
			IdempotencyFields: []string{"slug", "sha", "blocked_at"},
			DefaultLevel:      LevelBusiness,
			Lifecycle: &NotificationLifecycle{
				Updates:          true,
				GroupKeyField:    "slug",
				MeaningfulFields: []string{"blocked_at"},
			},
		},
	}

	for _, schema := range builtins {
		// Registration of fresh builtins into an empty catalog cannot conflict.
		if err := c.Register(schema); err != nil {
			panic(fmt.Sprintf("builtin schema %s invalid: %v", schema.EventType, err))
		}
	}

	return c
}
