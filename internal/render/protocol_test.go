package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestOutputRoundTrip_Success(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x89},
		[]byte("PNG-ish payload with \x00 bytes \x01 inside"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, payload := range payloads {
		for _, overflow := range []bool{false, true} {
			encoded := EncodeSuccess(payload, overflow)
			out, err := DecodeOutput(encoded)
			if err != nil {
				t.Fatalf("payload len %d overflow %v: unexpected error %v", len(payload), overflow, err)
			}
			if !bytes.Equal(out.Image, payload) {
				t.Errorf("payload len %d: image bytes not identical after round trip", len(payload))
			}
			if out.Overflow != overflow {
				t.Errorf("payload len %d: overflow = %v, want %v", len(payload), out.Overflow, overflow)
			}
		}
	}
}

func TestOutputRoundTrip_EngineError(t *testing.T) {
	msg := "Undefined control sequence \\frak on line 3"
	out, err := DecodeOutput(EncodeFailure(msg))
	if out != nil {
		t.Fatal("expected no outcome for engine error frame")
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("err = %T, want *EngineError", err)
	}
	if engErr.Message != msg {
		t.Errorf("message = %q, want %q", engErr.Message, msg)
	}
}

func TestDecodeOutput_FramingViolations(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"one byte":       {statusSuccess},
		"unknown status": {0x7F, 0x00, 0x01},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeOutput(data)
			var infraErr *InfraError
			if !errors.As(err, &infraErr) {
				t.Fatalf("err = %T, want *InfraError", err)
			}
			if infraErr.Kind != InfraProtocol {
				t.Errorf("kind = %s, want %s", infraErr.Kind, InfraProtocol)
			}
		})
	}
}

func TestInputRoundTrip(t *testing.T) {
	sources := []string{
		"\\frac{1}{2}",
		"multi\nline\nsource\n",
		"", // empty source is still a valid frame
		"trailing mode-like text\nwide\n",
	}

	for _, src := range sources {
		for _, mode := range []Mode{ModeNormal, ModeWide} {
			framed := EncodeInput(mode, src)
			gotMode, gotSrc, err := DecodeInput(bytes.NewReader(framed))
			if err != nil {
				t.Fatalf("mode %s: unexpected error %v", mode, err)
			}
			if gotMode != mode {
				t.Errorf("mode = %s, want %s", gotMode, mode)
			}
			if gotSrc != src {
				t.Errorf("source = %q, want %q", gotSrc, src)
			}
		}
	}
}

func TestDecodeInput_BadMode(t *testing.T) {
	_, _, err := DecodeInput(strings.NewReader("sideways\nsource"))
	if err == nil {
		t.Fatal("expected error for unknown mode token")
	}
}

func TestDecodeInput_NoModeLine(t *testing.T) {
	_, _, err := DecodeInput(strings.NewReader("no newline at all"))
	if err == nil {
		t.Fatal("expected error when the mode line is unterminated")
	}
}
