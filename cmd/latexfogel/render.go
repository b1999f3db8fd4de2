package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kitmatheinfo/latexfogel/internal/engine"
	"github.com/kitmatheinfo/latexfogel/internal/render"
)

// The render-* subcommands are the container side of the render protocol:
// framed input on stdin, framed output on stdout. They are executed inside
// the sandbox image, never by users, hence hidden.

var renderLatexCmd = &cobra.Command{
	Use:    "render-latex",
	Short:  "Compile framed LaTeX from stdin to a framed PNG on stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRender(cmd, render.RoleLaTeX)
	},
}

var renderTypstCmd = &cobra.Command{
	Use:    "render-typst",
	Short:  "Compile framed Typst from stdin to a framed PNG on stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runRender(cmd, render.RoleTypst)
	},
}

func runRender(cmd *cobra.Command, role render.Role) error {
	// Diagnostics go to stderr; stdout carries only protocol frames.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	mode, source, err := render.DecodeInput(os.Stdin)
	if err != nil {
		return err
	}

	var eng engine.Engine
	switch role {
	case render.RoleTypst:
		eng = engine.NewTypst(logger)
	default:
		eng = engine.NewLaTeX(logger)
	}

	outcome, err := render.NewLocal(eng).Render(cmd.Context(), render.Request{
		Source: source,
		Mode:   mode,
	})
	if err != nil {
		var engErr *render.EngineError
		if errors.As(err, &engErr) {
			// The author's mistake: report in-protocol with a clean exit.
			_, werr := os.Stdout.Write(render.EncodeFailure(engErr.Message))
			return werr
		}
		// Toolchain breakage: dirty exit, the host reports infrastructure.
		return err
	}

	_, err = os.Stdout.Write(render.EncodeSuccess(outcome.Image, outcome.Overflow))
	return err
}
