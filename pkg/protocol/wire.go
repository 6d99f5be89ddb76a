// Package protocol defines the wire format spoken between the postbox
// server and its clients: one JSON value per line, requests tagged with a
// "command" field and responses shaped per command.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

const (
	// MaxLineSize is the maximum allowed request or response line (64 KB).
	// Message bodies are capped far below this; the limit only guards
	// against a misbehaving peer streaming garbage.
	MaxLineSize = 64 * 1024
)

// Sentinel response values. These are the only responses that are bare JSON
// strings rather than structured objects.
const (
	// StopSentinel tells both ends to terminate the connection.
	StopSentinel = "stop"
	// WrongCommandSentinel answers any request the router does not recognize.
	WrongCommandSentinel = "Wrong command"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrLineTooLong    = errors.New("line exceeds maximum size")
)

// LineReader reads newline-delimited JSON values with a size cap.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps r with a line reader bounded at MaxLineSize.
func NewLineReader(r io.Reader) *LineReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &LineReader{scanner: scanner}
}

// ReadLine returns the next line without its trailing newline. It returns
// io.EOF when the peer closes the connection and ErrLineTooLong when a line
// exceeds MaxLineSize.
func (lr *LineReader) ReadLine() ([]byte, error) {
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		return nil, io.EOF
	}
	return lr.scanner.Bytes(), nil
}

// WriteValue marshals v as JSON and writes it as a single line.
func WriteValue(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// DecodeValue parses a response line into its dynamic JSON shape (object,
// array, or bare string). Used by clients, which print whatever arrives.
func DecodeValue(line []byte) (any, error) {
	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		return nil, err
	}
	return v, nil
}
