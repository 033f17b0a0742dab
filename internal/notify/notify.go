// Package notify reports deployment progress back to GitHub as commit
// statuses.
package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// State is a GitHub commit status state.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// maxDescriptionLen is the longest description, in characters, GitHub
// accepts on a status.
const maxDescriptionLen = 140

// Notifier reports the state of a deployment for a pushed commit.
type Notifier interface {
	Notify(ctx context.Context, repository, sha string, state State, description string) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, State, string) error { return nil }

// GitHubStatus posts commit statuses through the GitHub REST API.
type GitHubStatus struct {
	Client *github.Client
	// Context is the status context shown on the commit, e.g. the service name.
	Context string
}

// New returns a GitHubStatus notifier authenticated with token, or Noop when
// token is empty.
func New(token, statusContext string) Notifier {
	if token == "" {
		return Noop{}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &GitHubStatus{
		Client:  github.NewClient(tc),
		Context: statusContext,
	}
}

// Notify creates a status on sha in repository ("owner/name").
// A push without a head commit (branch deletion) is skipped.
func (g *GitHubStatus) Notify(ctx context.Context, repository, sha string, state State, description string) error {
	if sha == "" {
		return nil
	}

	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("invalid repository %q: expected owner/name", repository)
	}

	status := &github.RepoStatus{
		State:       github.String(string(state)),
		Description: github.String(truncate(description, maxDescriptionLen)),
		Context:     github.String(g.Context),
	}

	if _, _, err := g.Client.Repositories.CreateStatus(ctx, owner, repo, sha, status); err != nil {
		return fmt.Errorf("creating %s status for %s@%s: %w", state, repository, sha, err)
	}
	return nil
}

// truncate shortens s to at most n characters, cutting on rune boundaries.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}
