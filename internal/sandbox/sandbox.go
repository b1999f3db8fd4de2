// Package sandbox runs the renderer inside hard-isolated containers.
// Untrusted typesetting source never executes directly on the host.
package sandbox

import (
	"context"
	"time"
)

// Runner executes one container invocation per render job.
type Runner interface {
	// EnsureImage makes the image available locally. Called before Run;
	// a fetch failure aborts the job without spawning anything.
	EnsureImage(ctx context.Context, image string) error

	// Run spawns the container, feeds the input payload on stdin, and waits
	// for completion or the deadline. On deadline expiry the container is
	// force-killed by name and ErrTimeout is returned.
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// Invocation describes a single container run. It is consumed exactly once.
//
// Isolation is not configurable here: every invocation gets the full
// hardening set (read-only rootfs, no network, all capabilities dropped,
// tmpfs scratch space). The payload is always untrusted, so the API offers
// no way to weaken those per request.
type Invocation struct {
	Image string // Container image reference.
	Name  string // Exact container name; also the kill target.
	Args  []string // Command passed to the image (role + flags).
	Input []byte // Written fully to stdin before waiting.

	Deadline time.Duration // Wall-clock limit. 0 = runner default.
}

// Limits caps the container's resource usage.
type Limits struct {
	PIDs     int     // --pids-limit (prevents fork bombs).
	MemoryMB int     // --memory hard limit, swap disabled.
	CPUCores float64 // --cpus rate limit.
}

// Result captures a completed (non-timed-out) container run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}
