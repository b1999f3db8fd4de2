package sandbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

// testImage is a small image assumed present for integration tests.
const testImage = "alpine:latest"

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
	if err := exec.Command("docker", "image", "inspect", testImage).Run(); err != nil {
		t.Skipf("image %s not present, skipping (docker pull %s)", testImage, testImage)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T) *DockerRunner {
	t.Helper()
	skipIfNoDocker(t)
	return NewDockerRunner(Limits{PIDs: 32, MemoryMB: 64, CPUCores: 0.5}, testLogger())
}

func TestBuildDockerArgs_HardeningFlags(t *testing.T) {
	r := NewDockerRunner(Limits{PIDs: 100, MemoryMB: 256, CPUCores: 1.5}, testLogger())
	args := r.buildDockerArgs(Invocation{
		Image: "renderer:latest",
		Name:  "latexfogel-latex-42",
		Args:  []string{"render"},
	})

	for _, want := range []string{
		"--rm",
		"--name=latexfogel-latex-42",
		"--interactive=true",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--network=none",
		"--pids-limit=100",
		"--memory=256m",
		"--memory-swap=256m",
		"--cpus=1.50",
		"--tmpfs=/tmp:rw,noexec,nosuid",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("args missing %q: %v", want, args)
		}
	}

	// Image must come after all flags, role command last.
	imgIdx := slices.Index(args, "renderer:latest")
	cmdIdx := slices.Index(args, "render")
	if imgIdx < 0 || cmdIdx != imgIdx+1 {
		t.Errorf("expected image then command at the end, got %v", args)
	}
}

func TestBuildDockerArgs_DefaultLimits(t *testing.T) {
	r := NewDockerRunner(Limits{}, testLogger())
	args := r.buildDockerArgs(Invocation{Image: "img", Name: "n"})

	for _, want := range []string{"--pids-limit=5000", "--memory=500m", "--cpus=1.00"} {
		if !slices.Contains(args, want) {
			t.Errorf("args missing default %q: %v", want, args)
		}
	}
}

func TestLimitedWriter_Caps(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: 5}

	n, err := lw.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("hello world") {
		t.Errorf("n = %d, want full length %d (excess silently discarded)", n, len("hello world"))
	}
	if buf.String() != "hello" {
		t.Errorf("buffered = %q, want %q", buf.String(), "hello")
	}

	// Subsequent writes are discarded entirely.
	if n, err := lw.Write([]byte("more")); err != nil || n != 4 {
		t.Errorf("discard write = (%d, %v), want (4, nil)", n, err)
	}
	if buf.String() != "hello" {
		t.Errorf("buffer grew past cap: %q", buf.String())
	}
}

func TestDockerRunner_StdinRoundTrip(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Invocation{
		Image:    testImage,
		Name:     "latexfogel-test-stdin",
		Args:     []string{"cat"},
		Input:    []byte("normal\n\\frac{1}{2}"),
		Deadline: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if got := string(res.Stdout); got != "normal\n\\frac{1}{2}" {
		t.Errorf("stdout = %q, want payload echoed back", got)
	}
}

func TestDockerRunner_NonZeroExit(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Invocation{
		Image:    testImage,
		Name:     "latexfogel-test-exit",
		Args:     []string{"sh", "-c", "echo diag >&2; exit 3"},
		Deadline: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "diag") {
		t.Errorf("stderr = %q, want diagnostics captured", res.Stderr)
	}
}

func TestDockerRunner_Timeout(t *testing.T) {
	r := newTestRunner(t)

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{
		Image:    testImage,
		Name:     "latexfogel-test-timeout",
		Args:     []string{"sleep", "60"},
		Deadline: 2 * time.Second,
	})
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("kill took too long: %s", elapsed)
	}

	// The kill must have been awaited: no container left behind.
	out, _ := exec.Command("docker", "ps", "-q", "--filter", "name=latexfogel-test-timeout").Output()
	if s := strings.TrimSpace(string(out)); s != "" {
		t.Errorf("container still running after timeout: %s", s)
	}
}

func TestDockerRunner_NoNetwork(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Invocation{
		Image:    testImage,
		Name:     "latexfogel-test-nonet",
		Args:     []string{"sh", "-c", "wget -q -T 3 -O- http://1.1.1.1 2>&1 || echo BLOCKED"},
		Deadline: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "BLOCKED") {
		t.Errorf("expected network to be unreachable, stdout = %q", res.Stdout)
	}
}

func TestDockerRunner_ReadOnlyRootFS(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Invocation{
		Image:    testImage,
		Name:     "latexfogel-test-rofs",
		Args:     []string{"sh", "-c", "touch /etc/x 2>/dev/null && echo WRITABLE; touch /tmp/x && echo TMPOK"},
		Deadline: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := string(res.Stdout)
	if strings.Contains(out, "WRITABLE") {
		t.Error("root filesystem is writable, expected read-only")
	}
	if !strings.Contains(out, "TMPOK") {
		t.Error("tmpfs scratch space not writable")
	}
}

func TestEnsureImage_BadImage(t *testing.T) {
	skipIfNoDocker(t)
	r := NewDockerRunner(Limits{}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.EnsureImage(ctx, "latexfogel-no-such-image-zz:latest")
	if err == nil {
		t.Fatal("expected pull failure for nonexistent image")
	}
}
