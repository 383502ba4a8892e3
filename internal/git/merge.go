package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// MergeStatus classifies the outcome of a merge-and-push attempt.
type MergeStatus string

const (
	// StatusMerged means the candidate was merged and pushed
	StatusMerged MergeStatus = "merged"

	// StatusConflict means the merge produced conflicts and was aborted
	StatusConflict MergeStatus = "conflict"

	// StatusPushRejected means the merge succeeded locally but the remote
	// refused the push
	StatusPushRejected MergeStatus = "push_rejected"
)

// MergeResult reports a merge-and-push attempt. Conflict and push-rejected
// outcomes carry diagnostic evidence for the follow-up work item; they are
// domain outcomes, not errors.
type MergeResult struct {
	Status      MergeStatus
	MergeCommit string // Set when Status == StatusMerged
	Evidence    string // Diagnostic detail for blocked outcomes
}

// Repo performs integration-branch operations on a local clone.
// Only the current lease holder may call MergeAndPush; the repo itself does
// not enforce that - the integrator's fencing checks do.
type Repo struct {
	dir        string
	remote     string
	mainBranch string
}

// NewRepo creates a Repo rooted at dir, integrating into remote/mainBranch.
func NewRepo(dir, remote, mainBranch string) *Repo {
	return &Repo{dir: dir, remote: remote, mainBranch: mainBranch}
}

// run executes a git command in the repo directory, capturing both streams.
func (r *Repo) run(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), err
}

// RemoteTip fetches and returns the current tip of the canonical integration
// branch. The integrator reads this fresh before every merge: it is the sole
// writer, but read-before-write still detects out-of-band drift.
func (r *Repo) RemoteTip(ctx context.Context) (string, error) {
	if _, stderr, err := r.run(ctx, "fetch", r.remote, r.mainBranch); err != nil {
		return "", fmt.Errorf("failed to fetch %s/%s: %s: %w", r.remote, r.mainBranch, stderr, err)
	}

	tip, stderr, err := r.run(ctx, "rev-parse", fmt.Sprintf("%s/%s", r.remote, r.mainBranch))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s/%s: %s: %w", r.remote, r.mainBranch, stderr, err)
	}
	return tip, nil
}

// MergeAndPush merges the candidate commit into the integration branch and
// pushes. The local branch is hard-reset to the freshly fetched remote tip
// first, so stale local state can never leak into the merge.
//
// Returns a MergeResult for domain outcomes (merged, conflict, rejected) and
// an error only for infrastructure failures (git missing, network down).
// Blocked outcomes always leave the worktree clean.
func (r *Repo) MergeAndPush(ctx context.Context, branch, sha string) (*MergeResult, error) {
	if _, stderr, err := r.run(ctx, "fetch", r.remote, r.mainBranch, branch); err != nil {
		return nil, fmt.Errorf("failed to fetch candidate %s: %s: %w", branch, stderr, err)
	}

	if _, stderr, err := r.run(ctx, "checkout", r.mainBranch); err != nil {
		return nil, fmt.Errorf("failed to checkout %s: %s: %w", r.mainBranch, stderr, err)
	}
	if _, stderr, err := r.run(ctx, "reset", "--hard", fmt.Sprintf("%s/%s", r.remote, r.mainBranch)); err != nil {
		return nil, fmt.Errorf("failed to reset to remote tip: %s: %w", stderr, err)
	}

	message := fmt.Sprintf("Merge branch '%s' at %s", branch, sha)
	if _, mergeStderr, err := r.run(ctx, "merge", "--no-ff", "-m", message, sha); err != nil {
		conflicts, _, _ := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
		r.run(ctx, "merge", "--abort")

		if conflicts != "" {
			return &MergeResult{
				Status:   StatusConflict,
				Evidence: fmt.Sprintf("conflicting paths:\n%s", conflicts),
			}, nil
		}
		return nil, fmt.Errorf("merge of %s failed: %s: %w", sha, mergeStderr, err)
	}

	mergeCommit, stderr, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to read merge commit: %s: %w", stderr, err)
	}

	if _, pushStderr, err := r.run(ctx, "push", r.remote, r.mainBranch); err != nil {
		// Clean up the local merge either way
		r.run(ctx, "reset", "--hard", fmt.Sprintf("%s/%s", r.remote, r.mainBranch))

		if isPushRejection(pushStderr) {
			return &MergeResult{
				Status:   StatusPushRejected,
				Evidence: pushStderr,
			}, nil
		}
		return nil, fmt.Errorf("failed to push %s: %s: %w", r.mainBranch, pushStderr, err)
	}

	return &MergeResult{Status: StatusMerged, MergeCommit: mergeCommit}, nil
}

// isPushRejection distinguishes a remote refusing the ref update from
// infrastructure failures like a dropped connection.
func isPushRejection(stderr string) bool {
	return strings.Contains(stderr, "[rejected]") ||
		strings.Contains(stderr, "failed to push some refs") ||
		strings.Contains(stderr, "non-fast-forward")
}
