package integrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/pkg/journal"
	"github.com/google/uuid"
)

// State is the integrator's position in its cycle. States are logged, not
// persisted: everything durable lives in the lease, queue and event log.
type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring_lease"
	StateDraining  State = "draining"
	StateMerging   State = "merging"
	StateResolving State = "resolving"
	StateFailing   State = "failing"
	StateReleasing State = "releasing"
)

// Options configures a Runtime. Zero values take defaults.
type Options struct {
	HolderID     string        // Lease holder identity (default: generated UUID)
	LeaseTTL     time.Duration // Crash-recovery window (default 30s)
	InfraBackoff time.Duration // Delay before retrying an infrastructure failure (default 2s)
	Source       string        // Producer source tag (default "integrator")
	FollowUps    FollowUpCreator
	PostMerge    PostMergeHook
}

// Runtime drains the integration queue under the protection of the
// integration lease. Before every side-effecting step it re-verifies its
// fencing token, so a runtime that lost leadership during a long pause can
// never double-process after a new holder has taken over.
type Runtime struct {
	client    *journal.Client
	producer  *journal.Producer
	vcs       VCS
	followUps FollowUpCreator
	postMerge PostMergeHook

	holderID     string
	leaseTTL     time.Duration
	infraBackoff time.Duration
	source       string

	state      State
	lastOffset string // Offset of the last emitted event, seeded from the stored checkpoint
}

// NewRuntime creates an integrator runtime.
func NewRuntime(client *journal.Client, producer *journal.Producer, vcs VCS, opts Options) *Runtime {
	if opts.HolderID == "" {
		opts.HolderID = fmt.Sprintf("integrator-%s", uuid.New().String())
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 30 * time.Second
	}
	if opts.InfraBackoff <= 0 {
		opts.InfraBackoff = 2 * time.Second
	}
	if opts.Source == "" {
		opts.Source = "integrator"
	}
	if opts.FollowUps == nil {
		opts.FollowUps = LogFollowUps{}
	}

	return &Runtime{
		client:       client,
		producer:     producer,
		vcs:          vcs,
		followUps:    opts.FollowUps,
		postMerge:    opts.PostMerge,
		holderID:     opts.HolderID,
		leaseTTL:     opts.LeaseTTL,
		infraBackoff: opts.InfraBackoff,
		source:       opts.Source,
		state:        StateIdle,
	}
}

// HolderID returns the runtime's lease holder identity.
func (r *Runtime) HolderID() string { return r.holderID }

// Run performs one full integration cycle: acquire the lease, drain the
// queue, release, terminate. Losing the acquire race is a normal outcome and
// returns nil. A lease that goes stale mid-drain aborts the cycle without
// releasing (the lease is no longer ours to release).
func (r *Runtime) Run(ctx context.Context) error {
	r.setState(StateAcquiring)

	token, err := r.client.AcquireLease(ctx, r.holderID, r.leaseTTL)
	if err != nil {
		r.setState(StateIdle)
		if errors.Is(err, journal.ErrLeaseDenied) {
			r.logEvent("lease_denied", map[string]interface{}{"holder": r.holderID})
			return nil
		}
		return fmt.Errorf("failed to acquire lease: %w", err)
	}

	r.logEvent("lease_acquired", map[string]interface{}{"holder": r.holderID, "token": token})

	if r.lastOffset == "" {
		if checkpoint, cpErr := r.client.LoadCheckpoint(ctx); cpErr == nil {
			r.lastOffset = checkpoint
		}
	}

	renewCtx, stopRenewing := context.WithCancel(ctx)
	lost := make(chan struct{})
	go r.renewLoop(renewCtx, token, lost)

	err = r.drain(ctx, token, lost)
	stopRenewing()

	if errors.Is(err, journal.ErrStaleLease) {
		r.logEvent("lease_lost", map[string]interface{}{"holder": r.holderID, "token": token})
		r.setState(StateIdle)
		return nil
	}
	if err != nil {
		return err
	}

	r.setState(StateReleasing)

	// ctx may already be cancelled on shutdown; the release gets its own
	// short deadline so a clean exit still frees the lease instead of
	// leaving the next holder to wait out the TTL.
	releaseCtx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRelease()
	if relErr := r.client.ReleaseLease(releaseCtx, r.holderID, token); relErr != nil && !errors.Is(relErr, journal.ErrStaleLease) {
		log.Printf("[Integrator] Failed to release lease: %v", relErr)
	}

	r.setState(StateIdle)
	return nil
}

// Serve runs integration cycles until the context is cancelled, waking on
// the wake channel or after one TTL of quiet. Used by the daemon binary;
// session-orchestrated deployments call Run once per spawn instead.
func (r *Runtime) Serve(ctx context.Context) error {
	wake, err := r.client.SubscribeWake(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to wake channel: %w", err)
	}
	defer wake.Close()

	ticker := time.NewTicker(r.leaseTTL)
	defer ticker.Stop()

	for {
		if err := r.Run(ctx); err != nil {
			log.Printf("[Integrator] Cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-wake.Signals():
		case <-ticker.C:
		}
	}
}

// renewLoop extends the lease at TTL/3 intervals so normal operation never
// flaps ownership. A stale renewal closes lost to abort the drain.
func (r *Runtime) renewLoop(ctx context.Context, token int64, lost chan struct{}) {
	ticker := time.NewTicker(r.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.client.RenewLease(ctx, r.holderID, token, r.leaseTTL)
			if errors.Is(err, journal.ErrStaleLease) {
				close(lost)
				return
			}
			if err != nil {
				// Infrastructure hiccup; the TTL window gives the next
				// tick a chance before the lease actually lapses
				log.Printf("[Integrator] Lease renewal failed: %v", err)
			}
		}
	}
}

// drain processes queue entries until the queue is empty or the context,
// lease or store gives out. Cancellation is honored only here, at the top of
// the per-candidate loop: a started merge runs to completion or explicit
// failure, never a partial abort.
func (r *Runtime) drain(ctx context.Context, token int64, lost <-chan struct{}) error {
	r.setState(StateDraining)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			return journal.ErrStaleLease
		default:
		}

		entry, err := r.client.PeekQueue(ctx)
		if journal.IsNotFound(err) {
			// Persist the checkpoint even when this cycle emitted nothing,
			// carrying the previous cycle's position forward
			if cpErr := r.client.SaveCheckpoint(ctx, r.lastOffset); cpErr != nil {
				log.Printf("[Integrator] Failed to save checkpoint: %v", cpErr)
			}
			r.logEvent("queue_drained", map[string]interface{}{"holder": r.holderID})
			return nil
		}
		if err != nil {
			if sleepErr := r.sleep(ctx); sleepErr != nil {
				return nil
			}
			continue
		}

		if err := r.processCandidate(ctx, token, entry); err != nil {
			if errors.Is(err, journal.ErrStaleLease) {
				return err
			}
			// Infrastructure failure: entry stays unacked, retry after backoff
			log.Printf("[Integrator] Failed to process %s: %v", entry.Ref.Slug, err)
			if sleepErr := r.sleep(ctx); sleepErr != nil {
				return nil
			}
		}

		r.setState(StateDraining)
	}
}

// processCandidate merges one candidate. Domain failures (conflict, rejected
// push, unmergeable candidate) are absorbed into deployment.failed events and
// follow-up items; only infrastructure failures return an error.
func (r *Runtime) processCandidate(ctx context.Context, token int64, entry *journal.QueueEntry) error {
	ref := entry.Ref

	r.logEvent("candidate_processing", map[string]interface{}{
		"slug": ref.Slug, "branch": ref.Branch, "sha": ref.SHA,
	})

	if err := r.ensureFenced(ctx, token); err != nil {
		return err
	}

	if ref.SHA == "" || ref.Branch == "" {
		// A candidate can reach READY without a deployment.started event if
		// the workflow config does not require one; without a commit there
		// is nothing to merge.
		return r.setAside(ctx, token, entry, "readiness", "candidate has no branch/sha to merge")
	}

	tip, err := r.vcs.RemoteTip(ctx)
	if err != nil {
		return fmt.Errorf("failed to read integration tip: %w", err)
	}

	r.setState(StateMerging)
	if err := r.ensureFenced(ctx, token); err != nil {
		return err
	}

	result, err := r.vcs.MergeAndPush(ctx, ref.Branch, ref.SHA)
	if err != nil {
		return fmt.Errorf("merge attempt failed: %w", err)
	}

	switch result.Status {
	case git.StatusMerged:
		return r.resolve(ctx, token, entry, tip, result.MergeCommit)
	case git.StatusConflict:
		return r.setAside(ctx, token, entry, "merge", result.Evidence)
	case git.StatusPushRejected:
		return r.setAside(ctx, token, entry, "push", result.Evidence)
	default:
		return fmt.Errorf("unknown merge status: %q", result.Status)
	}
}

// resolve finishes a successful merge: bookkeeping, completion event, ack.
func (r *Runtime) resolve(ctx context.Context, token int64, entry *journal.QueueEntry, previousTip, mergeCommit string) error {
	r.setState(StateResolving)

	if r.postMerge != nil {
		if err := r.postMerge(ctx, entry.Ref.Slug, mergeCommit); err != nil {
			// The merge is already pushed; bookkeeping failure cannot unwind it
			log.Printf("[Integrator] Post-merge bookkeeping failed for %s: %v", entry.Ref.Slug, err)
		}
	}

	if err := r.ensureFenced(ctx, token); err != nil {
		return err
	}

	if err := r.emit(ctx, journal.EventDeploymentCompleted, map[string]string{
		"slug":         entry.Ref.Slug,
		"merge_commit": mergeCommit,
	}); err != nil {
		return err
	}

	if err := r.client.AckQueue(ctx, entry); err != nil {
		return err
	}

	r.logEvent("candidate_merged", map[string]interface{}{
		"slug":         entry.Ref.Slug,
		"merge_commit": mergeCommit,
		"previous_tip": previousTip,
	})
	return nil
}

// setAside handles a blocked candidate: failure event, follow-up item, ack.
// The candidate is set aside rather than retried so it cannot block the FIFO
// for the candidates behind it.
func (r *Runtime) setAside(ctx context.Context, token int64, entry *journal.QueueEntry, blockedAt, evidence string) error {
	r.setState(StateFailing)

	if err := r.ensureFenced(ctx, token); err != nil {
		return err
	}

	if err := r.emit(ctx, journal.EventDeploymentFailed, map[string]string{
		"slug":       entry.Ref.Slug,
		"branch":     entry.Ref.Branch,
		"sha":        entry.Ref.SHA,
		"blocked_at": blockedAt,
		"evidence":   evidence,
	}); err != nil {
		return err
	}

	if err := r.followUps.CreateFollowUp(ctx, entry.Ref.Slug, evidence); err != nil {
		// The failure notification already surfaced; a lost follow-up item
		// is recoverable by the human reading it
		log.Printf("[Integrator] Failed to create follow-up for %s: %v", entry.Ref.Slug, err)
	}

	if err := r.client.AckQueue(ctx, entry); err != nil {
		return err
	}

	r.logEvent("candidate_set_aside", map[string]interface{}{
		"slug":       entry.Ref.Slug,
		"blocked_at": blockedAt,
	})
	return nil
}

// ensureFenced verifies the runtime's fencing token is still current.
func (r *Runtime) ensureFenced(ctx context.Context, token int64) error {
	valid, err := r.client.LeaseValid(ctx, r.holderID, token)
	if err != nil {
		return err
	}
	if !valid {
		return journal.ErrStaleLease
	}
	return nil
}

// emit appends an event through the producer and records its offset for the
// shutdown checkpoint.
func (r *Runtime) emit(ctx context.Context, eventType string, payload map[string]string) error {
	envelope, err := r.producer.Emit(ctx, eventType, payload, r.source)
	if err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}
	r.lastOffset = envelope.Offset
	return nil
}

// sleep pauses for the infra backoff, honoring cancellation.
func (r *Runtime) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.infraBackoff):
		return nil
	}
}

func (r *Runtime) setState(state State) {
	if r.state == state {
		return
	}
	r.state = state
	r.logEvent("state_changed", map[string]interface{}{"state": string(state)})
}

// logEvent logs a structured event in JSON format.
func (r *Runtime) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "integrator"
	data["event_type"] = eventType
	data["instance"] = r.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Integrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
