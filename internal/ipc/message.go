// Package ipc defines the private channel between the host and a discovery
// worker: newline-delimited JSON envelopes over the worker's stdin/stdout.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ipsix/plugscan/internal/plugin"
)

type Kind string

const (
	KindHello  Kind = "hello"
	KindScan   Kind = "scan"
	KindResult Kind = "result"
	KindQuit   Kind = "quit"
)

// MaxMessageSize bounds a single envelope. Shell plugins can report hundreds
// of descriptors in one response.
const MaxMessageSize = 8 << 20

type Envelope struct {
	Coordinator string `json:"coordinator"`
	ID          uint64 `json:"id,omitempty"`
	Kind        Kind   `json:"kind"`
	Protocol    string `json:"protocol,omitempty"`
	Target      string `json:"target,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// ScanRequest asks the worker to probe one file or identifier.
type ScanRequest struct {
	Protocol plugin.Protocol
	Target   string
}

func (r ScanRequest) String() string {
	return r.Protocol.String() + " " + r.Target
}

type ResponseState int

const (
	StateTimeout ResponseState = iota
	StateGotResult
	StateConnectionLost
)

func (s ResponseState) String() string {
	switch s {
	case StateGotResult:
		return "got_result"
	case StateConnectionLost:
		return "connection_lost"
	default:
		return "timeout"
	}
}

type ScanResponse struct {
	State       ResponseState
	Descriptors []plugin.Descriptor
}

// Writer serialises envelopes; safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(env Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(env); err != nil {
		return fmt.Errorf("write %s envelope: %w", env.Kind, err)
	}
	return nil
}

// Reader yields envelopes one line at a time. Lines that are not valid JSON
// are reported through Next's error so callers can log and continue.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxMessageSize)
	return &Reader{scanner: scanner}
}

// Next returns io.EOF once the stream is closed.
func (r *Reader) Next() (Envelope, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, &DecodeError{Line: string(line), Err: err}
		}
		return env, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// DecodeError is a malformed line; the stream itself is still usable.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
