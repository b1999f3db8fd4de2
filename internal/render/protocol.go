package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Byte-level contract between the orchestrator and the renderer subprocess.
//
// Output (subprocess → orchestrator), first byte is a status flag:
//
//	0x00  success: second byte is the overflow flag (0x00/0x01),
//	      all remaining bytes are the raw PNG payload
//	0x01  engine error: all remaining bytes are UTF-8 error text
//
// Anything shorter than two bytes, or with an unknown status byte, is a
// framing violation. The status is always resolved before any payload bytes
// are interpreted, and the overflow flag never depends on parsing the
// payload itself.
//
// Input (orchestrator → subprocess): a single newline-terminated mode token
// followed immediately by the raw source with no further delimiter.
const (
	statusSuccess     = 0x00
	statusEngineError = 0x01
)

// EncodeInput frames a render request for the subprocess's stdin.
func EncodeInput(mode Mode, source string) []byte {
	buf := make([]byte, 0, len(mode)+1+len(source))
	buf = append(buf, mode...)
	buf = append(buf, '\n')
	buf = append(buf, source...)
	return buf
}

// DecodeInput reads a framed request from the subprocess side: the mode
// line, then everything remaining as the source text.
func DecodeInput(r io.Reader) (Mode, string, error) {
	br := bufio.NewReader(r)

	line, err := br.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("reading mode line: %w", err)
	}
	mode, err := ParseMode(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return "", "", err
	}

	source, err := io.ReadAll(br)
	if err != nil {
		return "", "", fmt.Errorf("reading source: %w", err)
	}
	return mode, string(source), nil
}

// EncodeSuccess frames a rendered image with its overflow flag.
func EncodeSuccess(image []byte, overflow bool) []byte {
	buf := make([]byte, 0, 2+len(image))
	buf = append(buf, statusSuccess)
	if overflow {
		buf = append(buf, 0x01)
	} else {
		buf = append(buf, 0x00)
	}
	return append(buf, image...)
}

// EncodeFailure frames an engine-reported error description.
func EncodeFailure(message string) []byte {
	buf := make([]byte, 0, 1+len(message))
	buf = append(buf, statusEngineError)
	return append(buf, message...)
}

// DecodeOutput parses the subprocess's stdout. It returns an Outcome on
// success, an *EngineError when the engine reported a content-level failure
// in-protocol, or an *InfraError with kind InfraProtocol on a framing
// violation.
func DecodeOutput(data []byte) (*Outcome, error) {
	if len(data) < 2 {
		return nil, &InfraError{
			Kind:   InfraProtocol,
			Err:    fmt.Errorf("output too short: %d bytes", len(data)),
			Stdout: data,
		}
	}

	switch data[0] {
	case statusSuccess:
		return &Outcome{
			Image:    data[2:],
			Overflow: data[1] != 0x00,
		}, nil
	case statusEngineError:
		return nil, &EngineError{Message: string(data[1:])}
	default:
		return nil, &InfraError{
			Kind:   InfraProtocol,
			Err:    fmt.Errorf("unknown status byte 0x%02x", data[0]),
			Stdout: data,
		}
	}
}
