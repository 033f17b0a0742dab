// Package server implements the HTTP surface of the webhook listener.
//
// This package provides:
//   - GitHub webhook endpoint handling with HMAC signature verification
//   - Per-IP rate limiting (global and per-webhook)
//   - Service information, health and Prometheus metrics endpoints
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/event: push payload parsing and the deploy decision
//   - internal/deployment: the serialized deploy command runner
//   - internal/notify: optional GitHub commit status reporting
//
// Deployments run synchronously: the webhook response is written only after
// the deploy command finishes, so it carries the command's output.
package server
