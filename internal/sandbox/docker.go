package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	// maxOutputBytes caps stdout/stderr to prevent OOM from a hostile renderer.
	maxOutputBytes = 16 << 20 // 16 MB, rendered PNGs arrive on stdout

	defaultDeadline  = 15 * time.Second
	defaultPIDsLimit = 5000
	defaultMemoryMB  = 500
	defaultCPUCores  = 1.0

	killTimeout = 5 * time.Second
)

// ErrTimeout is returned when a container exceeded its wall-clock deadline
// and was force-killed. The kill has already been issued and awaited when
// Run returns this error.
var ErrTimeout = errors.New("sandbox: render deadline exceeded")

// DockerRunner executes render jobs inside ephemeral Docker containers.
//
// Security guarantees per invocation:
//   - ALL Linux capabilities dropped (--cap-drop=ALL)
//   - Read-only root filesystem (--read-only) with tmpfs at /tmp
//   - Privilege escalation blocked (--security-opt=no-new-privileges)
//   - Network disabled (--network=none)
//   - Memory hard limit with no swap (OOM kill on exceed)
//   - PIDs limit prevents fork bombs
//   - CPU rate limited
//   - stdout/stderr capped on the host side
//   - Deterministic container name, so timeout kills address the exact job
type DockerRunner struct {
	limits Limits
	logger *slog.Logger
}

// NewDockerRunner creates a Docker-backed Runner with the given resource caps.
func NewDockerRunner(limits Limits, logger *slog.Logger) *DockerRunner {
	if limits.PIDs <= 0 {
		limits.PIDs = defaultPIDsLimit
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = defaultMemoryMB
	}
	if limits.CPUCores <= 0 {
		limits.CPUCores = defaultCPUCores
	}
	return &DockerRunner{limits: limits, logger: logger}
}

// EnsureImage pulls the image. Pull output is captured for diagnostics and
// never surfaced to end users.
func (r *DockerRunner) EnsureImage(ctx context.Context, image string) error {
	r.logger.Info("pulling renderer image", slog.String("image", image))

	out, err := exec.CommandContext(ctx, "docker", "pull", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pulling image %s: %w (output: %s)", image, err, bytes.TrimSpace(out))
	}

	r.logger.Info("renderer image present", slog.String("image", image))
	return nil
}

// Run executes one container invocation. The input payload is written fully
// to stdin before completion is awaited; the completion wait is raced against
// the deadline. On expiry the container is killed by its exact name, the kill
// is awaited, and ErrTimeout is returned. A non-zero exit is a Result, not an
// error — the caller decides whether the output still speaks the protocol.
func (r *DockerRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	deadline := inv.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}

	args := r.buildDockerArgs(inv)
	cmd := exec.Command("docker", args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}

	r.logger.Info("sandbox executing",
		slog.String("container", inv.Name),
		slog.String("image", inv.Image),
		slog.Any("args", inv.Args),
		slog.Int("input_bytes", len(inv.Input)),
		slog.Duration("deadline", deadline),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning container %s: %w", inv.Name, err)
	}

	h := newHandle(inv.Name, cmd, r.logger)

	// Feed the payload. The write races the deadline too: a renderer that
	// never reads stdin must not stall the job past its deadline.
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	writeDone := make(chan error, 1)
	go func() {
		_, werr := stdin.Write(inv.Input)
		if cerr := stdin.Close(); werr == nil {
			werr = cerr
		}
		writeDone <- werr
	}()

	select {
	case err := <-writeDone:
		if err != nil {
			h.kill()
			<-h.done
			return nil, fmt.Errorf("writing payload to container %s: %w", inv.Name, err)
		}
	case <-timer.C:
		h.kill()
		<-h.done
		return nil, ErrTimeout
	case <-ctx.Done():
		h.kill()
		<-h.done
		return nil, ctx.Err()
	}

	// Await completion against the remaining deadline.
	select {
	case waitErr := <-h.done:
		duration := time.Since(start)
		exitCode := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(waitErr, &exitErr) {
				return nil, fmt.Errorf("waiting for container %s: %w", inv.Name, waitErr)
			}
			exitCode = exitErr.ExitCode()
		}

		r.logger.Info("sandbox completed",
			slog.String("container", inv.Name),
			slog.Int("exit_code", exitCode),
			slog.Duration("duration", duration),
			slog.Int("stdout_bytes", stdoutBuf.Len()),
			slog.Int("stderr_bytes", stderrBuf.Len()),
		)

		return &Result{
			ExitCode: exitCode,
			Stdout:   stdoutBuf.Bytes(),
			Stderr:   stderrBuf.Bytes(),
			Duration: duration,
		}, nil

	case <-timer.C:
		r.logger.Warn("sandbox timed out, killing container",
			slog.String("container", inv.Name),
			slog.Duration("deadline", deadline),
		)
		h.kill()
		<-h.done
		return nil, ErrTimeout

	case <-ctx.Done():
		h.kill()
		<-h.done
		return nil, ctx.Err()
	}
}

// buildDockerArgs constructs the docker run argument list. The hardening
// flags are fixed; only the resource numbers come from runner config.
func (r *DockerRunner) buildDockerArgs(inv Invocation) []string {
	args := []string{
		"run", "--rm",
		"--name=" + inv.Name,
		"--interactive=true",

		// --- Security hardening ---
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--network=none",

		// --- Resource limits ---
		"--pids-limit=" + strconv.Itoa(r.limits.PIDs),
		"--memory=" + strconv.Itoa(r.limits.MemoryMB) + "m",
		"--memory-swap=" + strconv.Itoa(r.limits.MemoryMB) + "m", // same as memory = no swap
		"--cpus=" + strconv.FormatFloat(r.limits.CPUCores, 'f', 2, 64),

		// --- Writable scratch space, volatile memory only ---
		"--tmpfs=/tmp:rw,noexec,nosuid",
	}

	args = append(args, inv.Image)
	args = append(args, inv.Args...)
	return args
}

// handle ties a running container's completion to its kill capability, so a
// timeout path cannot observe the one without having the other.
type handle struct {
	name   string
	done   chan error // closed-over cmd.Wait result, buffered
	logger *slog.Logger
}

func newHandle(name string, cmd *exec.Cmd, logger *slog.Logger) *handle {
	h := &handle{
		name:   name,
		done:   make(chan error, 1),
		logger: logger,
	}
	go func() {
		h.done <- cmd.Wait()
	}()
	return h
}

// kill force-terminates the container by its exact name and waits for the
// docker kill command itself to finish. Errors are logged, not returned:
// the job outcome is already decided when kill runs.
func (h *handle) kill() {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "kill", h.name).CombinedOutput()
	if err != nil {
		// "No such container" means the container already exited or --rm fired.
		if !bytes.Contains(out, []byte("No such container")) {
			h.logger.Warn("docker kill failed",
				slog.String("container", h.name),
				slog.String("error", err.Error()),
				slog.String("output", string(bytes.TrimSpace(out))),
			)
		}
		return
	}

	h.logger.Info("container killed", slog.String("container", h.name))
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}

var _ Runner = (*DockerRunner)(nil)
