// Package channel is the git transport for coordination. All shared state
// moves through an ordinary git remote: workers commit their own log files,
// pull with rebase, and push. Because every worker appends only to its own
// files, concurrent pushes never conflict at the data level; the only push
// failure mode left is a remote that moved ahead, resolved by re-pulling.
package channel

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
)

// Channel coordinates through a git checkout at repoRoot
type Channel struct {
	repoRoot string
	paths    []string // paths staged on every sync, relative to repoRoot
	retries  int
	gitMu    sync.Mutex
}

// Options configures a Channel
type Options struct {
	// Paths staged on every sync. Defaults to the data directory.
	Paths []string
	// Retries bounds push attempts after a rejected push. Default 3.
	Retries int
}

// New creates a channel for the repo at repoRoot
func New(repoRoot string, opts Options) *Channel {
	if len(opts.Paths) == 0 {
		opts.Paths = []string{"data"}
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	return &Channel{repoRoot: repoRoot, paths: opts.Paths, retries: opts.Retries}
}

func (c *Channel) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w\n%s", args[0], err, output)
	}
	return string(output), nil
}

// commitLocal stages and commits the log paths so a rebase pull cannot
// fail on a dirty tree. A commit with nothing staged is not an error.
func (c *Channel) commitLocal(ctx context.Context, message string) error {
	args := append([]string{"add", "--"}, c.paths...)
	if output, err := c.git(ctx, args...); err != nil {
		// A data dir with no files yet is not an error
		if !strings.Contains(output, "did not match any files") {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = c.repoRoot
	if err := cmd.Run(); err == nil {
		return nil // nothing staged
	}

	_, err := c.git(ctx, "commit", "-m", message)
	return err
}

// Pull commits local logs and rebases onto the remote
func (c *Channel) Pull(ctx context.Context) error {
	c.gitMu.Lock()
	defer c.gitMu.Unlock()
	return c.pullLocked(ctx)
}

func (c *Channel) pullLocked(ctx context.Context) error {
	if err := c.commitLocal(ctx, "Auto-save progress"); err != nil {
		return fmt.Errorf("commit before pull: %w", err)
	}
	if _, err := c.git(ctx, "pull", "--rebase"); err != nil {
		return err
	}
	return nil
}

// Publish commits local logs and pushes. A rejected push (remote moved
// ahead) re-pulls and retries up to the retry budget. A permission-denied
// push falls back to contributing through a fork pull request.
func (c *Channel) Publish(ctx context.Context, message string) error {
	c.gitMu.Lock()
	defer c.gitMu.Unlock()

	if err := c.commitLocal(ctx, message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		output, err := c.git(ctx, "push")
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermissionDenied(output) {
			log.Printf("channel: no direct push access, contributing via fork PR")
			return c.publishViaFork(ctx, message)
		}

		// Remote moved ahead; rebase and retry
		if err := c.pullLocked(ctx); err != nil {
			return fmt.Errorf("re-pull after rejected push: %w", err)
		}
	}
	return fmt.Errorf("push rejected after %d attempts: %w", c.retries, lastErr)
}

// isPermissionDenied classifies push output that direct-push retries
// cannot fix.
func isPermissionDenied(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range []string{"permission", "denied", "protected branch", "unable to access"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// publishViaFork forks the upstream repo, pushes the current branch state
// to a contribution branch on the fork, and opens a PR with gh.
func (c *Channel) publishViaFork(ctx context.Context, message string) error {
	username, err := c.gh(ctx, "api", "user", "--jq", ".login")
	if err != nil {
		return fmt.Errorf("not logged into GitHub CLI (run: gh auth login): %w", err)
	}
	username = strings.TrimSpace(username)

	originURL, err := c.git(ctx, "remote", "get-url", "origin")
	if err != nil {
		return err
	}
	upstream, repoName, err := parseGitHubRepo(strings.TrimSpace(originURL))
	if err != nil {
		return err
	}

	// Ignore "already forked"
	if _, err := c.gh(ctx, "repo", "fork", upstream, "--clone=false"); err != nil {
		log.Printf("channel: fork: %v", err)
	}
	forkURL := fmt.Sprintf("https://github.com/%s/%s.git", username, repoName)
	if _, err := c.git(ctx, "remote", "add", "fork", forkURL); err != nil {
		// remote may already exist
		if _, err := c.git(ctx, "remote", "set-url", "fork", forkURL); err != nil {
			return err
		}
	}

	prevBranch, err := c.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	prevBranch = strings.TrimSpace(prevBranch)

	branch := fmt.Sprintf("contrib-%s-%s", username, randomSuffix(6))
	if _, err := c.git(ctx, "checkout", "-b", branch); err != nil {
		return err
	}
	defer func() {
		if _, err := c.git(ctx, "checkout", prevBranch); err != nil {
			log.Printf("channel: restore branch %s: %v", prevBranch, err)
		}
	}()

	if _, err := c.git(ctx, "push", "-u", "fork", branch); err != nil {
		return fmt.Errorf("push to fork: %w", err)
	}

	prURL, err := c.gh(ctx, "pr", "create",
		"--repo", upstream,
		"--head", fmt.Sprintf("%s:%s", username, branch),
		"--title", message,
		"--body", fmt.Sprintf("Automated contribution from %s.\n\nRun results from distributed testing.", username))
	if err != nil {
		return fmt.Errorf("create PR: %w", err)
	}
	log.Printf("channel: PR created: %s", strings.TrimSpace(prURL))
	return nil
}

func (c *Channel) gh(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = c.repoRoot
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("gh %s: %w\n%s", args[0], err, output)
	}
	return string(output), nil
}

// parseGitHubRepo extracts "owner/repo" and "repo" from a remote URL
func parseGitHubRepo(url string) (ownerRepo, repo string, err error) {
	if !strings.Contains(url, "github.com") {
		return "", "", fmt.Errorf("cannot parse non-GitHub remote %q", url)
	}
	trimmed := strings.TrimSuffix(url, ".git")
	trimmed = strings.ReplaceAll(trimmed, ":", "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse remote %q", url)
	}
	owner, name := parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || name == "" {
		return "", "", fmt.Errorf("cannot parse remote %q", url)
	}
	return owner + "/" + name, name, nil
}

func randomSuffix(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
