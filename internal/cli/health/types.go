// Package health provides shared types for health check responses.
package health

// Response represents the master's liveness response.
type Response struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Error   string `json:"error,omitempty"`
}
