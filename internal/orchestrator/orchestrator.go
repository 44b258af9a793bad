package orchestrator

import (
	"context"
	"fmt"
)

const (
	// Label applied to every terminal workload; count and list operations
	// select on it.
	LabelApp        = "app"
	LabelAppValue   = "terminal-server"
	LabelTerminalID = "terminal_id"
	LabelWorkload   = "workload"
)

// ContainerOrchestrator is the capability interface the lifecycle core drives.
// Implementations must be safe for concurrent use.
type ContainerOrchestrator interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string

	// Lifecycle
	CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error)
	DeleteContainer(ctx context.Context, ref string) error
	StopContainer(ctx context.Context, ref string) error
	GetContainerStatus(ctx context.Context, ref string) (string, error)

	// Capacity and usage
	CountActiveContainers(ctx context.Context) (int, error)
	GetContainerStats(ctx context.Context, ref string) (*ResourceStats, error)
}

// CreateParams is everything a container needs to report back to the API.
type CreateParams struct {
	TerminalID         string
	CallbackURL        string
	CallbackToken      string
	TunnelHost         string
	IdleTimeoutSeconds int
}

// ContainerInfo identifies a freshly created workload.
type ContainerInfo struct {
	Ref          string
	Name         string
	HostEndpoint string
}

// ResourceStats is a point-in-time usage sample. Absent metrics are nil.
type ResourceStats struct {
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryMB      *float64 `json:"memory_mb,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
}

// Empty reports whether no metric is present.
func (s *ResourceStats) Empty() bool {
	return s == nil || (s.CPUPercent == nil && s.MemoryMB == nil && s.MemoryPercent == nil)
}

// ContainerName is the deterministic workload name for a terminal.
func ContainerName(terminalID string) string {
	return "terminal-" + terminalID
}

func containerEnv(params CreateParams) map[string]string {
	return map[string]string{
		"TERMINAL_ID":                   params.TerminalID,
		"API_CALLBACK_URL":              params.CallbackURL,
		"CALLBACK_TOKEN":                params.CallbackToken,
		"LOCALTUNNEL_HOST":              params.TunnelHost,
		"TERMINAL_IDLE_TIMEOUT_SECONDS": fmt.Sprintf("%d", params.IdleTimeoutSeconds),
	}
}

func containerLabels(terminalID string) map[string]string {
	return map[string]string{
		LabelApp:        LabelAppValue,
		LabelTerminalID: terminalID,
	}
}
