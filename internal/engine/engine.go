// Package engine compiles typesetting markup to PNG images. It runs
// inside the sandbox container, invoked by the render subcommands, and
// shells out to the toolchains baked into the renderer image.
package engine

import (
	"context"
	"fmt"
	"strings"
)

// Width selects the paper width of the rendered page.
type Width string

const (
	// WidthNormal is the default page width for inline results.
	WidthNormal Width = "11.5cm"
	// WidthWide is the page width used after a widen request.
	WidthWide Width = "18cm"
)

// backgroundColor is the chat client's dark message background. Rendering
// on it makes the image blend into the conversation.
const backgroundColor = "313338"

// Result is a successfully compiled document.
type Result struct {
	// PNG is the encoded image.
	PNG []byte
	// Overflow reports that the content did not fit the page width and
	// the user should be offered a wider rerender.
	Overflow bool
}

// Engine compiles a single markup source to a PNG.
//
// A failure caused by the user's markup is reported as *CompileError;
// any other error means the toolchain itself misbehaved.
type Engine interface {
	Compile(ctx context.Context, width Width, source string) (*Result, error)
}

// CompileError is a compilation failure caused by the submitted markup.
// Its output is safe to show to the author of the markup.
type CompileError struct {
	Output string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile failed: %s", strings.TrimSpace(e.Output))
}
