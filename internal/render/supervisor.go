package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kitmatheinfo/latexfogel/internal/observability"
	"github.com/kitmatheinfo/latexfogel/internal/sandbox"
)

// containerNamePrefix is the fixed prefix for all renderer containers.
// Names are deterministic per (role, correlation id), so concurrent jobs
// never collide and an orphaned container stays locatable for the kill path.
const containerNamePrefix = "latexfogel"

// SupervisorConfig configures one sandboxed renderer.
type SupervisorConfig struct {
	Image    string        // Renderer container image.
	Role     Role          // Selects the render subcommand and name prefix.
	Deadline time.Duration // Wall-clock limit per job. 0 = sandbox default.
}

// Supervisor is the sandboxed-subprocess Renderer: it ensures the image,
// frames the input, runs the container through the sandbox Runner, and
// decodes the framed output. Idempotent per call, no retries.
type Supervisor struct {
	runner  sandbox.Runner
	config  SupervisorConfig
	metrics *observability.Metrics // nil-safe
	tracer  trace.Tracer           // nil = tracing disabled
	logger  *slog.Logger
}

// NewSupervisor creates a Supervisor on top of a sandbox Runner.
func NewSupervisor(runner sandbox.Runner, cfg SupervisorConfig, metrics *observability.Metrics, tracer trace.Tracer, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		runner:  runner,
		config:  cfg,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// ContainerName derives the deterministic container name for a job.
func ContainerName(role Role, correlationID int64) string {
	return containerNamePrefix + "-" + string(role) + "-" + strconv.FormatInt(correlationID, 10)
}

// Render runs one job end to end. The returned error is either an
// *EngineError (surfaced verbatim) or an *InfraError (generic user notice,
// full diagnostics logged here).
func (s *Supervisor) Render(ctx context.Context, req Request) (outcome *Outcome, err error) {
	start := time.Now()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "render",
			trace.WithAttributes(
				attribute.String("render.role", string(s.config.Role)),
				attribute.String("render.mode", string(req.Mode)),
				attribute.Int64("render.correlation_id", req.CorrelationID),
			),
		)
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()
	}
	defer func() {
		s.metrics.ObserveRender(string(s.config.Role), string(req.Mode), renderStatus(err), time.Since(start))
	}()

	if err := s.runner.EnsureImage(ctx, s.config.Image); err != nil {
		s.logger.Error("renderer image pull failed",
			slog.String("image", s.config.Image),
			slog.String("error", err.Error()),
		)
		return nil, &InfraError{Kind: InfraPull, Err: err}
	}

	name := ContainerName(s.config.Role, req.CorrelationID)
	result, err := s.runner.Run(ctx, sandbox.Invocation{
		Image:    s.config.Image,
		Name:     name,
		Args:     []string{"render-" + string(s.config.Role)},
		Input:    EncodeInput(req.Mode, req.Source),
		Deadline: s.config.Deadline,
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			s.logger.Warn("render timed out",
				slog.String("container", name),
				slog.Duration("deadline", s.config.Deadline),
			)
			return nil, &InfraError{Kind: InfraTimeout, Err: err}
		}
		s.logger.Error("render spawn failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
		)
		return nil, &InfraError{Kind: InfraSpawn, Err: err}
	}

	// An engine failure is reported in-protocol from a clean exit. A dirty
	// exit means the renderer itself broke — infrastructure, not content.
	if result.ExitCode != 0 {
		s.logger.Error("renderer exited non-zero",
			slog.String("container", name),
			slog.Int("exit_code", result.ExitCode),
			slog.String("stderr", string(result.Stderr)),
		)
		return nil, &InfraError{
			Kind:   InfraExit,
			Err:    fmt.Errorf("renderer exited with status %d", result.ExitCode),
			Stdout: result.Stdout,
			Stderr: result.Stderr,
		}
	}

	outcome, err = DecodeOutput(result.Stdout)
	if err != nil {
		var infraErr *InfraError
		if errors.As(err, &infraErr) {
			infraErr.Stderr = result.Stderr
			s.logger.Error("renderer output unparseable",
				slog.String("container", name),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("render succeeded",
		slog.String("container", name),
		slog.Int("image_bytes", len(outcome.Image)),
		slog.Bool("overflow", outcome.Overflow),
		slog.Duration("duration", result.Duration),
	)
	return outcome, nil
}

// renderStatus labels an outcome for metrics.
func renderStatus(err error) string {
	if err == nil {
		return "success"
	}
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return "engine_error"
	}
	var infraErr *InfraError
	if errors.As(err, &infraErr) {
		return string(infraErr.Kind)
	}
	return "error"
}

var _ Renderer = (*Supervisor)(nil)
