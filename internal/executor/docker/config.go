package docker

import (
	"time"
)

// Config holds the settings for the execution-service container.
type Config struct {
	// Image is the execution service image. It must serve the /run API on
	// ContainerPort.
	Image string
	// Pull fetches the image before starting. Disable for locally built images.
	Pull bool
	// Name of the container. Empty lets Docker pick one.
	Name string
	// ContainerPort is the port the service listens on inside the container.
	ContainerPort int
	// HostPort is bound on 127.0.0.1.
	HostPort int
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// CodeTimeout is handed to the service as CODE_TIMEOUT. It must stay below
	// the client-side run timeout.
	CodeTimeout time.Duration
	// StartTimeout bounds the wait for the health probe to pass.
	StartTimeout time.Duration
	// PollInterval is the delay between health probes.
	PollInterval time.Duration
}

// DefaultConfig mirrors the service's own defaults.
func DefaultConfig() Config {
	return Config{
		Image:         "playground-executor:latest",
		Pull:          false,
		ContainerPort: 8000,
		HostPort:      8000,
		// 512 MB memory limit
		MemoryLimit:  512 * 1024 * 1024,
		CPULimit:     1,
		CodeTimeout:  120 * time.Second,
		StartTimeout: 60 * time.Second,
		PollInterval: 500 * time.Millisecond,
	}
}
