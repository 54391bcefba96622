// Package protocol is the text line protocol spoken by the dispatch server.
//
// A request is one line, either
//
//	ENGINE:<name>;POWMIN:<a>;POWMAX:<b>[;THREADS:<n>][;WORKERS:<w>]
//
// or the older comma form ENGINE=<name>,POWMIN=<a>,POWMAX=<b>. The bare
// commands QUIT and STATS are also accepted.
//
// Every response except BYE is a run of KEY:VALUE lines closed by a line
// holding only END_OF_RESPONSE.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/hybridlife/internal/engine"
)

// Terminator closes every multi-line response.
const Terminator = "END_OF_RESPONSE"

// Request defaults when a field is omitted.
const (
	DefaultEngine = "serial"
	DefaultMinPow = 3
	DefaultMaxPow = 8
)

var (
	// ErrFormat is returned for a line that is not a request.
	ErrFormat = errors.New("FORMAT_INVALID")
	// ErrEngineUnknown is returned when the engine is not in the catalogue.
	ErrEngineUnknown = errors.New("ENGINE_UNKNOWN")
	// ErrParams is returned for exponents outside 1 ≤ min ≤ max ≤ 20 and
	// for a worker count the engine cannot honour.
	ErrParams = errors.New("PARAMS_INVALID")
)

// Command is the kind of a request line.
type Command int

const (
	Run Command = iota
	Quit
	Stats
)

// Request is a parsed request line. Threads and Workers are zero when the
// client left them to the server.
type Request struct {
	Engine  string
	Command Command
	MinPow  int
	MaxPow  int
	Threads int
	Workers int
}

// Parse reads one request line.
func Parse(line string) (Request, error) {
	line = strings.TrimSpace(line)
	switch strings.ToUpper(line) {
	case "":
		return Request{}, fmt.Errorf("%w: empty request", ErrFormat)
	case "QUIT":
		return Request{Command: Quit}, nil
	case "STATS":
		return Request{Command: Stats}, nil
	}

	fieldSep, kvSep := ";", ":"
	if !strings.Contains(line, ":") && strings.Contains(line, "=") {
		fieldSep, kvSep = ",", "="
	}

	req := Request{Command: Run, Engine: DefaultEngine, MinPow: DefaultMinPow, MaxPow: DefaultMaxPow}
	for _, field := range strings.Split(line, fieldSep) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, val, ok := strings.Cut(field, kvSep)
		if !ok {
			return req, fmt.Errorf("%w: field %q has no %q", ErrFormat, field, kvSep)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		if key == "ENGINE" {
			req.Engine = strings.ToLower(val)
			continue
		}
		var dst *int
		switch key {
		case "POWMIN":
			dst = &req.MinPow
		case "POWMAX":
			dst = &req.MaxPow
		case "THREADS":
			dst = &req.Threads
		case "WORKERS":
			dst = &req.Workers
		default:
			return req, fmt.Errorf("%w: unknown field %q", ErrFormat, key)
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return req, fmt.Errorf("%w: %s is not an integer: %q", ErrFormat, key, val)
		}
		*dst = n
	}

	return req, req.Validate()
}

// Validate checks the engine name and the parameter ranges of a run
// request.
func (r Request) Validate() error {
	if r.Command != Run {
		return nil
	}
	if _, err := engine.Lookup(r.Engine); err != nil {
		return fmt.Errorf("%w: %q", ErrEngineUnknown, r.Engine)
	}
	if r.MinPow < 1 || r.MaxPow > engine.MaxPow || r.MinPow > r.MaxPow {
		return fmt.Errorf("%w: need 1 <= POWMIN <= POWMAX <= %d, got %d..%d",
			ErrParams, engine.MaxPow, r.MinPow, r.MaxPow)
	}
	if r.Threads < 0 || r.Workers < 0 {
		return fmt.Errorf("%w: negative THREADS or WORKERS", ErrParams)
	}
	return nil
}

// String renders r in the colon form.
func (r Request) String() string {
	switch r.Command {
	case Quit:
		return "QUIT"
	case Stats:
		return "STATS"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ENGINE:%s;POWMIN:%d;POWMAX:%d", r.Engine, r.MinPow, r.MaxPow)
	if r.Threads > 0 {
		fmt.Fprintf(&b, ";THREADS:%d", r.Threads)
	}
	if r.Workers > 0 {
		fmt.Fprintf(&b, ";WORKERS:%d", r.Workers)
	}
	return b.String()
}
