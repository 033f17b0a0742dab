package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"sitehook/internal/event"
	"sitehook/internal/notify"
)

const (
	MaxPayloadBytes = 25 << 20 // 25 MiB, GitHub's own delivery cap

	EventHeader    = "X-GitHub-Event"
	DeliveryHeader = "X-GitHub-Delivery"

	// notifyTimeout bounds each commit status call.
	notifyTimeout = 10 * time.Second
)

// WebhookRequest is everything ProcessWebhook needs from an HTTP delivery.
type WebhookRequest struct {
	Body       []byte
	Signature  string
	EventType  string
	ClientAddr string
	DeliveryID string
}

// HandleIndex describes the service and its non-secret configuration.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, ServiceInfo{
		Service: ServiceName,
		Status:  "running",
		Endpoints: map[string]string{
			"/":        "Service information",
			"/health":  "Health check",
			"/webhook": "GitHub webhook receiver (POST)",
			"/metrics": "Prometheus metrics",
		},
		Configuration: ServiceConfig{
			ServiceName:     s.Config.ServiceName,
			AllowedBranches: s.Config.AllowedBranches,
			Port:            s.Config.Port,
		},
	})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: s.Config.ServiceName,
		Port:    s.Config.Port,
	})
}

// HandleWebhook reads the delivery and hands it to ProcessWebhook.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.Logger.Warn("Webhook payload too large", "client", r.RemoteAddr, "limit", maxErr.Limit)
			metrics.webhook(outcomeTooLarge)
			s.respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse("Payload too large"))
			return
		}
		s.Logger.Error("Failed to read request body", "client", r.RemoteAddr, "error", err)
		metrics.webhook(outcomeReadError)
		s.respondJSON(w, http.StatusBadRequest, errorResponse("Failed to read payload"))
		return
	}

	// The response waits for the deployment, and for any deployment queued
	// ahead of it, so the server-wide write timeout must not apply.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.Logger.Warn("Failed to clear write deadline", "error", err)
	}

	status, response := s.ProcessWebhook(r.Context(), WebhookRequest{
		Body:       body,
		Signature:  r.Header.Get(SignatureHeader),
		EventType:  r.Header.Get(EventHeader),
		ClientAddr: r.RemoteAddr,
		DeliveryID: r.Header.Get(DeliveryHeader),
	})
	s.respondJSON(w, status, response)
}

// ProcessWebhook authenticates and classifies a delivery, runs the deployer
// for pushes to allow-listed branches, and returns the HTTP status and body
// to send back.
//
// The deployment is not cancelled when ctx is; only the deploy timeout stops it.
func (s *Server) ProcessWebhook(ctx context.Context, req WebhookRequest) (int, any) {
	logger := s.Logger.With("delivery", req.DeliveryID, "client", req.ClientAddr)
	logger.Info("Webhook received", "event", event.EventType(req.EventType), "bytes", len(req.Body))

	if !VerifySignature(req.Body, req.Signature, s.Config.Secret) {
		logger.Warn("Invalid webhook signature")
		metrics.webhook(outcomeInvalidSignature)
		return http.StatusForbidden, errorResponse("Invalid signature")
	}

	c, err := event.Classify(req.EventType, req.Body, s.Config.IsAllowedBranch)
	if err != nil {
		logger.Error("Invalid JSON payload", "error", err)
		metrics.webhook(outcomeInvalidJSON)
		return http.StatusBadRequest, errorResponse("Invalid JSON")
	}

	switch c.Decision {
	case event.IgnoreEventType:
		logger.Info("Ignoring event", "event", c.EventType)
		metrics.webhook(outcomeIgnoredEvent)
		return http.StatusOK, MessageResponse{Message: fmt.Sprintf("Event %s ignored", c.EventType)}

	case event.IgnoreBranch:
		logger.Info("Ignoring push to branch", "branch", c.Push.Branch, "repository", c.Push.Repository)
		metrics.webhook(outcomeIgnoredBranch)
		return http.StatusOK, MessageResponse{
			Message: fmt.Sprintf("Branch %s not configured for auto-deployment", c.Push.Branch),
		}
	}

	push := c.Push
	logger = logger.With("repository", push.Repository, "branch", push.Branch)
	logger.Info("Deployment accepted",
		"pusher", push.Pusher,
		"commits", push.Commits,
		"head", push.HeadCommit)

	deployCtx := context.WithoutCancel(ctx)
	s.notify(deployCtx, logger, push, notify.StatePending, "Deployment started")

	result := s.Deployer.Deploy(deployCtx)

	if !result.Success {
		logger.Error("Deployment failed",
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration_ms", result.Duration.Milliseconds(),
			"output", result.Output)
		metrics.webhook(outcomeDeployFailed)
		s.notify(deployCtx, logger, push, notify.StateFailure, "Deployment failed: "+result.Output)
		return http.StatusInternalServerError, DeploymentFailed{
			Error:      "Deployment failed",
			Repository: push.Repository,
			Branch:     push.Branch,
			Output:     result.Output,
		}
	}

	logger.Info("Deployment completed", "duration_ms", result.Duration.Milliseconds())
	metrics.webhook(outcomeDeployed)
	s.notify(deployCtx, logger, push, notify.StateSuccess, "Deployment succeeded")

	return http.StatusOK, DeploymentAccepted{
		Message:    "Deployment triggered successfully",
		Repository: push.Repository,
		Branch:     push.Branch,
		Pusher:     push.Pusher,
		Commits:    push.Commits,
		Output:     result.Output,
	}
}

// notify reports a commit status. Failures are logged and otherwise ignored.
func (s *Server) notify(ctx context.Context, logger *slog.Logger, push *event.Push, state notify.State, description string) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.Notifier.Notify(ctx, push.Repository, push.HeadCommit, state, description); err != nil {
		logger.Warn("Failed to report commit status", "state", string(state), "error", err)
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	if err := writeJSON(w, statusCode, data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
