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

// overflowMarker is the warning TeX emits when a box exceeds the line
// width. Its presence in the engine log drives the widen affordance.
const overflowMarker = `Overfull \hbox`

const latexTemplate = `\documentclass[preview,border=2pt]{standalone}
\usepackage[paperwidth=%s,paperheight=21cm,top=0mm,bottom=0mm,left=0mm,right=0mm]{geometry}
\usepackage{amsmath,amssymb}
\usepackage{xcolor}
\definecolor{chatbg}{HTML}{%s}
\begin{document}
\color{white}
\pagecolor{chatbg}
%s
\end{document}
`

// LaTeX compiles LaTeX markup with tectonic and rasterizes the
// resulting PDF with ImageMagick.
type LaTeX struct {
	logger *slog.Logger
}

func NewLaTeX(logger *slog.Logger) *LaTeX {
	return &LaTeX{logger: logger.With("engine", "latex")}
}

var _ Engine = (*LaTeX)(nil)

func (l *LaTeX) Compile(ctx context.Context, width Width, source string) (*Result, error) {
	dir, err := os.MkdirTemp("", "latexfogel-latex-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	doc := fmt.Sprintf(latexTemplate, width, backgroundColor, source)
	texPath := filepath.Join(dir, "input.tex")
	if err := os.WriteFile(texPath, []byte(doc), 0600); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	cmd := exec.CommandContext(ctx, "tectonic", "--outdir", dir, texPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			l.logger.Debug("tectonic rejected document", "exit_code", exitErr.ExitCode())
			return nil, &CompileError{Output: string(out)}
		}
		return nil, fmt.Errorf("failed to run tectonic: %w", err)
	}

	overflow := strings.Contains(string(out), overflowMarker)
	if overflow {
		l.logger.Debug("document overflows page width")
	}

	png, err := pdfToPNG(ctx, dir, filepath.Join(dir, "input.pdf"))
	if err != nil {
		return nil, err
	}
	return &Result{PNG: png, Overflow: overflow}, nil
}

// pdfToPNG rasterizes a single-page PDF at 300 dpi.
func pdfToPNG(ctx context.Context, dir, pdfPath string) ([]byte, error) {
	pngPath := filepath.Join(dir, "output.png")
	cmd := exec.CommandContext(ctx, "magick", "-density", "300", pdfPath, pngPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to rasterize pdf: %s: %w", strings.TrimSpace(string(out)), err)
	}
	png, err := os.ReadFile(pngPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rasterized image: %w", err)
	}
	return png, nil
}
