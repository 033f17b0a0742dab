// Package event turns a verified GitHub webhook delivery into a deployment
// decision.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
)

const (
	// PushEventType is the X-GitHub-Event value of a branch push.
	PushEventType = "push"

	// UnknownEventType is used when the delivery carries no event header.
	UnknownEventType = "unknown"

	branchRefPrefix = "refs/heads/"
	unknownValue    = "unknown"
)

// ErrInvalidPayload is returned when the body is not JSON or not shaped like
// the event it claims to be.
var ErrInvalidPayload = errors.New("invalid JSON payload")

// Decision is the outcome of classifying a delivery.
type Decision int

const (
	// Deploy means the push targets an allow-listed branch.
	Deploy Decision = iota
	// IgnoreEventType means the event is not a push.
	IgnoreEventType
	// IgnoreBranch means the push targets a branch outside the allow-list.
	IgnoreBranch
)

func (d Decision) String() string {
	switch d {
	case Deploy:
		return "deploy"
	case IgnoreEventType:
		return "ignore_event_type"
	case IgnoreBranch:
		return "ignore_branch"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Push holds the parts of a push payload the listener reports on.
type Push struct {
	Ref        string
	Branch     string
	Repository string
	Pusher     string
	HeadCommit string
	Commits    int
}

// Classification is the result of Classify. Push is nil unless the event
// type is push.
type Classification struct {
	EventType string
	Decision  Decision
	Push      *Push
}

// EventType normalizes the X-GitHub-Event header value.
func EventType(header string) string {
	if header == "" {
		return UnknownEventType
	}
	return header
}

// BranchFromRef strips a leading refs/heads/ from ref. Refs without the
// prefix, such as tags, are returned unchanged.
func BranchFromRef(ref string) string {
	return strings.TrimPrefix(ref, branchRefPrefix)
}

// ParsePush decodes a push payload. Absent fields never cause an error:
// repository and pusher default to "unknown", everything else to its zero value.
func ParsePush(body []byte) (*Push, error) {
	parsed, err := github.ParseWebHook(PushEventType, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	payload, ok := parsed.(*github.PushEvent)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected event type %T", ErrInvalidPayload, parsed)
	}

	push := &Push{
		Ref:        payload.GetRef(),
		Repository: payload.GetRepo().GetFullName(),
		Pusher:     payload.GetPusher().GetName(),
		HeadCommit: payload.GetAfter(),
		Commits:    len(payload.Commits),
	}
	push.Branch = BranchFromRef(push.Ref)
	if push.Repository == "" {
		push.Repository = unknownValue
	}
	if push.Pusher == "" {
		push.Pusher = unknownValue
	}

	return push, nil
}

// Classify decides whether a delivery should trigger a deployment. The body
// must already be authenticated. allowed reports whether a branch is on the
// deployment allow-list.
func Classify(eventType string, body []byte, allowed func(branch string) bool) (*Classification, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}

	c := &Classification{EventType: EventType(eventType)}
	if c.EventType != PushEventType {
		c.Decision = IgnoreEventType
		return c, nil
	}

	push, err := ParsePush(body)
	if err != nil {
		return nil, err
	}
	c.Push = push

	if allowed(push.Branch) {
		c.Decision = Deploy
	} else {
		c.Decision = IgnoreBranch
	}

	return c, nil
}
