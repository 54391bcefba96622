package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/stats"
)

// Response is the outcome of a run request.
type Response struct {
	Engine  string
	Results []cluster.SizeResult
	Elapsed time.Duration
}

func okNok(correct bool) string {
	if correct {
		return "OK"
	}
	return "NOK"
}

// WriteResponse writes a completed run followed by the terminator. An
// incorrect board is still a successful run; its size reports NOK.
func WriteResponse(w io.Writer, r Response) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "STATUS:SUCCESS")
	fmt.Fprintf(bw, "ENGINE:%s\n", r.Engine)
	fmt.Fprintf(bw, "EXECUTION_TIME:%.6f\n", r.Elapsed.Seconds())
	summary := make([]string, 0, len(r.Results))
	for _, sr := range r.Results {
		fmt.Fprintf(bw, "RESULT:tam=%d;correct=%s;init=%.6f;comp=%.6f;fim=%.6f;tot=%.6f\n",
			sr.Size, okNok(sr.Correct), sr.Setup, sr.Compute, sr.Validation, sr.Total)
		summary = append(summary, okNok(sr.Correct))
	}
	fmt.Fprintf(bw, "RESULTS:%s\n", strings.Join(summary, ";"))
	fmt.Fprintln(bw, Terminator)
	return bw.Flush()
}

// ErrorCode maps err onto the protocol's error code.
func ErrorCode(err error) string {
	for _, sentinel := range []error{ErrFormat, ErrEngineUnknown, ErrParams} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "ENGINE_FAILED"
}

// WriteError writes an error response for err.
func WriteError(w io.Writer, err error) error {
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	code := ErrorCode(err)
	if !strings.HasPrefix(msg, code) {
		msg = code + ": " + msg
	}
	_, werr := fmt.Fprintf(w, "STATUS:ERROR\nMESSAGE:%s\n%s\n", msg, Terminator)
	return werr
}

// WriteStats writes the dispatcher counters.
func WriteStats(w io.Writer, s stats.Snapshot) error {
	_, err := fmt.Fprintf(w,
		"STATUS:SUCCESS\nSTATS:active=%d;total=%d;ok=%d;error=%d;time=%.6f;throughput=%.2f\n%s\n",
		s.ActiveClients, s.TotalRequests, s.Succeeded, s.Failed, s.ProcessingTime, s.Throughput, Terminator)
	return err
}

// WriteBye answers QUIT.
func WriteBye(w io.Writer) error {
	_, err := io.WriteString(w, "BYE\n")
	return err
}

// ReadResponse reads lines up to and including the terminator and returns
// them without it. A lone BYE line is returned as is.
func ReadResponse(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == Terminator {
			return lines, nil
		}
		if line == "BYE" && len(lines) == 0 {
			return []string{line}, nil
		}
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			return lines, err
		}
	}
}
