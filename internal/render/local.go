package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/kitmatheinfo/latexfogel/internal/engine"
)

// Local renders in-process by invoking a typesetting engine directly.
// It is what the render subcommands run inside the sandbox container;
// the host side talks to it through the Supervisor instead.
type Local struct {
	engine engine.Engine
}

func NewLocal(eng engine.Engine) *Local {
	return &Local{engine: eng}
}

var _ Renderer = (*Local)(nil)

func (l *Local) Render(ctx context.Context, req Request) (*Outcome, error) {
	width, err := widthFor(req.Mode)
	if err != nil {
		return nil, err
	}

	res, err := l.engine.Compile(ctx, width, req.Source)
	if err != nil {
		var compileErr *engine.CompileError
		if errors.As(err, &compileErr) {
			return nil, &EngineError{Message: compileErr.Output}
		}
		return nil, err
	}
	return &Outcome{Image: res.PNG, Overflow: res.Overflow}, nil
}

func widthFor(mode Mode) (engine.Width, error) {
	switch mode {
	case ModeNormal:
		return engine.WidthNormal, nil
	case ModeWide:
		return engine.WidthWide, nil
	default:
		return "", fmt.Errorf("unknown render mode %q", mode)
	}
}
