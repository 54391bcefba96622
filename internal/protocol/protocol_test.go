package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Request
	}{
		{
			name: "colon form",
			line: "ENGINE:hibrido;POWMIN:3;POWMAX:6",
			want: Request{Command: Run, Engine: "hibrido", MinPow: 3, MaxPow: 6},
		},
		{
			name: "colon form with threads and workers",
			line: "ENGINE:mpi;POWMIN:4;POWMAX:4;THREADS:2;WORKERS:3\r\n",
			want: Request{Command: Run, Engine: "mpi", MinPow: 4, MaxPow: 4, Threads: 2, Workers: 3},
		},
		{
			name: "legacy comma form",
			line: "ENGINE=openmp,POWMIN=5,POWMAX=7",
			want: Request{Command: Run, Engine: "openmp", MinPow: 5, MaxPow: 7},
		},
		{
			name: "defaults for missing fields",
			line: "ENGINE=mpi",
			want: Request{Command: Run, Engine: "mpi", MinPow: DefaultMinPow, MaxPow: DefaultMaxPow},
		},
		{
			name: "case and spacing",
			line: " engine: Serial ; powmin: 1 ; powmax: 20 ",
			want: Request{Command: Run, Engine: "serial", MinPow: 1, MaxPow: 20},
		},
		{name: "quit", line: "QUIT", want: Request{Command: Quit}},
		{name: "stats", line: "stats\n", want: Request{Command: Stats}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"", ErrFormat},
		{"HELLO", ErrFormat},
		{"ENGINE:mpi;POWMIN:x;POWMAX:4", ErrFormat},
		{"ENGINE:mpi;COLOR:blue", ErrFormat},
		{"ENGINE:cuda;POWMIN:3;POWMAX:4", ErrEngineUnknown},
		{"ENGINE:mpi;POWMIN:0;POWMAX:4", ErrParams},
		{"ENGINE:mpi;POWMIN:5;POWMAX:4", ErrParams},
		{"ENGINE:mpi;POWMIN:3;POWMAX:21", ErrParams},
		{"ENGINE=mpi,POWMIN=3,POWMAX=4,THREADS=-1", ErrParams},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRequestString(t *testing.T) {
	r := Request{Command: Run, Engine: "hybrid", MinPow: 3, MaxPow: 5, Workers: 2}
	assert.Equal(t, "ENGINE:hybrid;POWMIN:3;POWMAX:5;WORKERS:2", r.String())

	back, err := Parse(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, back)

	assert.Equal(t, "QUIT", Request{Command: Quit}.String())
}

func TestWriteResponse(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResponse(&buf, Response{
		Engine:  "mpi",
		Elapsed: 1500 * time.Millisecond,
		Results: []cluster.SizeResult{
			{Size: 8, Correct: true, Setup: 0.5, Compute: 1, Validation: 0.25, Total: 1.75},
			{Size: 16, Correct: false},
		},
	})
	require.NoError(t, err)

	want := strings.Join([]string{
		"STATUS:SUCCESS",
		"ENGINE:mpi",
		"EXECUTION_TIME:1.500000",
		"RESULT:tam=8;correct=OK;init=0.500000;comp=1.000000;fim=0.250000;tot=1.750000",
		"RESULT:tam=16;correct=NOK;init=0.000000;comp=0.000000;fim=0.000000;tot=0.000000",
		"RESULTS:OK;NOK",
		Terminator,
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestWriteError(t *testing.T) {
	_, perr := Parse("ENGINE:cuda")
	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, perr))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "STATUS:ERROR", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "MESSAGE:ENGINE_UNKNOWN"), lines[1])
	assert.Equal(t, Terminator, lines[2])

	buf.Reset()
	require.NoError(t, WriteError(&buf, fmt.Errorf("worker 2 unreachable")))
	assert.Contains(t, buf.String(), "MESSAGE:ENGINE_FAILED: worker 2 unreachable\n")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "FORMAT_INVALID", ErrorCode(fmt.Errorf("x: %w", ErrFormat)))
	assert.Equal(t, "PARAMS_INVALID", ErrorCode(ErrParams))
	assert.Equal(t, "ENGINE_FAILED", ErrorCode(fmt.Errorf("boom")))
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteStats(&buf, stats.Snapshot{
		ActiveClients: 2, TotalRequests: 5, Succeeded: 4, Failed: 1, ProcessingTime: 2.5, Throughput: 2,
	}))
	assert.Equal(t,
		"STATUS:SUCCESS\nSTATS:active=2;total=5;ok=4;error=1;time=2.500000;throughput=2.00\n"+Terminator+"\n",
		buf.String())
}

func TestReadResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBye(&buf))
	require.NoError(t, WriteError(&buf, ErrFormat))
	r := bufio.NewReader(&buf)

	lines, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"BYE"}, lines)

	lines, err = ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"STATUS:ERROR", "MESSAGE:FORMAT_INVALID"}, lines)

	_, err = ReadResponse(r)
	assert.Error(t, err)
}
