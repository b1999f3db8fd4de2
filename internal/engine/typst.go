package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Typst compiles Typst markup with the typst CLI, which renders PNG
// directly. Typst reflows content so there is no overflow detection.
type Typst struct {
	logger *slog.Logger
}

func NewTypst(logger *slog.Logger) *Typst {
	return &Typst{logger: logger.With("engine", "typst")}
}

var _ Engine = (*Typst)(nil)

func typstDocument(width Width, source string) string {
	return strings.Join([]string{
		fmt.Sprintf("#set page(width: %s, height: auto, margin: (x: 1mm, y: 2mm))", width),
		fmt.Sprintf("#set page(fill: rgb(\"#%s\"))", backgroundColor),
		"#set text(white)",
		source,
	}, "\n")
}

func (t *Typst) Compile(ctx context.Context, width Width, source string) (*Result, error) {
	dir, err := os.MkdirTemp("", "latexfogel-typst-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.typ")
	outPath := filepath.Join(dir, "output.png")
	if err := os.WriteFile(inPath, []byte(typstDocument(width, source)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	cmd := exec.CommandContext(ctx, "typst", "compile", "--format", "png", "--ppi", "300", inPath, outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			t.logger.Debug("typst rejected document", "exit_code", exitErr.ExitCode())
			return nil, &CompileError{Output: string(out)}
		}
		return nil, fmt.Errorf("failed to run typst: %w", err)
	}

	png, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered image: %w", err)
	}
	return &Result{PNG: png}, nil
}
