package server

// ServiceName is reported by the index endpoint.
const ServiceName = "GitHub Webhook Listener"

// ServiceInfo is the body of GET /.
type ServiceInfo struct {
	Service       string            `json:"service"`
	Status        string            `json:"status"`
	Endpoints     map[string]string `json:"endpoints"`
	Configuration ServiceConfig     `json:"configuration"`
}

// ServiceConfig is the non-secret configuration shown on the index page.
type ServiceConfig struct {
	ServiceName     string   `json:"service_name"`
	AllowedBranches []string `json:"allowed_branches"`
	Port            int      `json:"port"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Port    int    `json:"port"`
}

// MessageResponse reports a delivery that was accepted but not deployed.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every plain error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DeploymentAccepted is returned when the deploy command succeeded.
type DeploymentAccepted struct {
	Message    string `json:"message"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Pusher     string `json:"pusher"`
	Commits    int    `json:"commits"`
	Output     string `json:"output"`
}

// DeploymentFailed is returned when the deploy command failed.
type DeploymentFailed struct {
	Error      string `json:"error"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Output     string `json:"output"`
}

func errorResponse(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}
