// Package integrator implements the singleton actor that drains the
// integration queue and performs merges. Any number of integrator instances
// may run; the integration lease, not the process model, enforces that only
// one of them writes the canonical integration branch at a time.
package integrator

import (
	"context"
	"log"

	"github.com/dyluth/drey/internal/git"
)

// VCS performs the actual integration-branch operations. internal/git.Repo is
// the production implementation; tests substitute fakes.
type VCS interface {
	// RemoteTip returns the current canonical integration tip, fetched
	// fresh - never a cached copy.
	RemoteTip(ctx context.Context) (string, error)

	// MergeAndPush merges the candidate into the integration branch and
	// pushes. Domain outcomes (merged, conflict, rejected) come back in the
	// result; only infrastructure failures are errors.
	MergeAndPush(ctx context.Context, branch, sha string) (*git.MergeResult, error)
}

// FollowUpCreator files a work item for a human when a candidate is blocked.
// Work-item tracking lives outside this core.
type FollowUpCreator interface {
	CreateFollowUp(ctx context.Context, slug, evidence string) error
}

// LogFollowUps is the fallback FollowUpCreator: it records the follow-up in
// the process log. The blocked candidate still surfaces through its
// non-auto-resolving notification.
type LogFollowUps struct{}

// CreateFollowUp implements FollowUpCreator.
func (LogFollowUps) CreateFollowUp(_ context.Context, slug, evidence string) error {
	log.Printf("[Integrator] Follow-up needed for %s:\n%s", slug, evidence)
	return nil
}

// PostMergeHook runs configured bookkeeping after a successful merge, before
// the completion event is emitted. Errors are logged, not fatal: the merge
// already happened.
type PostMergeHook func(ctx context.Context, slug, mergeCommit string) error
