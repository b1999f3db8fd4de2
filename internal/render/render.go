// Package render turns untrusted typesetting source into PNG images.
//
// The Renderer capability has two implementations: Supervisor, which runs
// the engine inside a hard-isolated container, and Local, which invokes the
// engine in-process (used by the render subcommands running inside that
// container). Callers depend only on the capability.
package render

import (
	"context"
	"fmt"
)

// Mode selects the rendering width variant.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeWide   Mode = "wide"
)

// ParseMode validates a mode token from the wire.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNormal, ModeWide:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown render mode %q", s)
}

// Role names a renderer variant. It selects the subcommand run inside the
// container and prefixes the container name.
type Role string

const (
	RoleLaTeX Role = "latex"
	RoleTypst Role = "typst"
)

// Request is one immutable render job.
type Request struct {
	Source        string // Untrusted typesetting source.
	Mode          Mode
	CorrelationID int64 // Stable id tying the job to its container name and cache keys.
}

// Outcome is a successful render.
type Outcome struct {
	Image    []byte // PNG bytes.
	Overflow bool   // Content exceeded its normal-width bounds; a wide re-render may help.
}

// Renderer produces exactly one of Outcome, *EngineError, or *InfraError
// per request. No retries — callers decide whether to re-invoke.
type Renderer interface {
	Render(ctx context.Context, req Request) (*Outcome, error)
}

// EngineError is a well-formed failure reported by the typesetting engine
// itself. Its message describes the caller's own input and is surfaced to
// the end user verbatim.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return "engine: " + e.Message
}

// InfraKind classifies infrastructure failures. These are logged with full
// diagnostics and surfaced to the end user only as a generic notice.
type InfraKind string

const (
	InfraPull     InfraKind = "pull_failure"
	InfraSpawn    InfraKind = "spawn_failure"
	InfraTimeout  InfraKind = "timeout"
	InfraExit     InfraKind = "nonzero_exit"
	InfraProtocol InfraKind = "protocol_framing"
)

// InfraError is a failure of the render machinery rather than of the input.
type InfraError struct {
	Kind   InfraKind
	Err    error  // Underlying cause, may be nil for exit/framing.
	Stdout []byte // Captured diagnostics. Never shown to end users.
	Stderr []byte
}

func (e *InfraError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render infrastructure (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("render infrastructure (%s)", e.Kind)
}

func (e *InfraError) Unwrap() error { return e.Err }
