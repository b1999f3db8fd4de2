package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipIfMissing(t *testing.T, binaries ...string) {
	t.Helper()
	for _, bin := range binaries {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed, skipping", bin)
		}
	}
}

func TestTypstDocument(t *testing.T) {
	doc := typstDocument(WidthWide, "$x$")
	if !strings.Contains(doc, "width: 18cm") {
		t.Errorf("wide typst document missing width:\n%s", doc)
	}
	if !strings.Contains(doc, "#313338") {
		t.Errorf("typst document missing background color:\n%s", doc)
	}
	if !strings.HasSuffix(doc, "$x$") {
		t.Errorf("source must come after preamble:\n%s", doc)
	}
}

func TestLatexDocument(t *testing.T) {
	doc := fmt.Sprintf(latexTemplate, WidthNormal, backgroundColor, `$\pi$`)
	if !strings.Contains(doc, "paperwidth=11.5cm") {
		t.Errorf("document missing paper width:\n%s", doc)
	}
	if !strings.Contains(doc, `\definecolor{chatbg}{HTML}{313338}`) {
		t.Errorf("document missing background color:\n%s", doc)
	}
	if !strings.Contains(doc, `$\pi$`) {
		t.Errorf("document missing source:\n%s", doc)
	}
}

func TestCompileError_Message(t *testing.T) {
	err := &CompileError{Output: "! Undefined control sequence.\n"}
	if got := err.Error(); !strings.Contains(got, "Undefined control sequence") {
		t.Errorf("Error() = %q, want engine output included", got)
	}
}

func TestLaTeX_Compile(t *testing.T) {
	skipIfMissing(t, "tectonic", "magick")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := NewLaTeX(testLogger()).Compile(ctx, WidthNormal, `$\frac{1}{2}$`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !bytes.HasPrefix(res.PNG, pngMagic) {
		t.Error("output is not a PNG")
	}
	if res.Overflow {
		t.Error("trivial formula reported overflow")
	}
}

func TestLaTeX_Compile_Overflow(t *testing.T) {
	skipIfMissing(t, "tectonic", "magick")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// A single unbreakable box far wider than 11.5cm.
	src := `\mbox{` + strings.Repeat("overlong ", 40) + `}`
	res, err := NewLaTeX(testLogger()).Compile(ctx, WidthNormal, src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !res.Overflow {
		t.Error("expected overflow flag for unbreakable wide box")
	}
}

func TestLaTeX_Compile_BadSource(t *testing.T) {
	skipIfMissing(t, "tectonic", "magick")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, err := NewLaTeX(testLogger()).Compile(ctx, WidthNormal, `\undefinedmacro`)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
	if compileErr.Output == "" {
		t.Error("compile error carries no engine output")
	}
}

func TestTypst_Compile(t *testing.T) {
	skipIfMissing(t, "typst")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	res, err := NewTypst(testLogger()).Compile(ctx, WidthNormal, "$ 1/2 $")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !bytes.HasPrefix(res.PNG, pngMagic) {
		t.Error("output is not a PNG")
	}
}

func TestTypst_Compile_BadSource(t *testing.T) {
	skipIfMissing(t, "typst")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := NewTypst(testLogger()).Compile(ctx, WidthNormal, "#import \"@preview/nonexistent:0.0.1\"")
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("err = %v, want *CompileError", err)
	}
}
