// Package dispatch serves the line protocol over TCP. Each client gets its
// own goroutine; requests on one connection are handled in order, and every
// run request calls the Runner directly and renders its structured result.
package dispatch

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/hybridlife/internal/cluster"
	"github.com/dreamware/hybridlife/internal/protocol"
	"github.com/dreamware/hybridlife/internal/stats"
)

// maxLine bounds a request line.
const maxLine = 4096

// Runner executes one run request.
type Runner interface {
	Run(ctx context.Context, req protocol.Request) ([]cluster.SizeResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req protocol.Request) ([]cluster.SizeResult, error)

func (f RunnerFunc) Run(ctx context.Context, req protocol.Request) ([]cluster.SizeResult, error) {
	return f(ctx, req)
}

// Server accepts clients and answers their requests.
type Server struct {
	runner   Runner
	counters *stats.Counters
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	clients  atomic.Int64
}

// New returns a server that runs requests with runner and records them in
// counters.
func New(runner Runner, counters *stats.Counters) *Server {
	return &Server{
		runner:   runner,
		counters: counters,
		conns:    make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("dispatch listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// every open connection and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
		c.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	id := s.clients.Add(1)
	s.counters.ClientConnected()
	defer s.counters.ClientDisconnected()
	log.Printf("dispatch: client %d connected from %s", id, conn.RemoteAddr())

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), maxLine)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 || line == "\r" {
			continue
		}
		log.Printf("dispatch: client %d request: %s", id, line)

		quit := s.answer(ctx, w, line)
		if err := w.Flush(); err != nil {
			log.Printf("dispatch: client %d write: %v", id, err)
			return
		}
		if quit {
			break
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		log.Printf("dispatch: client %d read: %v", id, err)
	}
	log.Printf("dispatch: client %d disconnected", id)
}

// answer writes the response to one line and reports whether the client
// asked to quit.
func (s *Server) answer(ctx context.Context, w *bufio.Writer, line string) bool {
	req, err := protocol.Parse(line)
	if err != nil {
		s.counters.Record(false, 0)
		protocol.WriteError(w, err)
		return false
	}

	switch req.Command {
	case protocol.Quit:
		protocol.WriteBye(w)
		return true
	case protocol.Stats:
		protocol.WriteStats(w, s.counters.Snapshot())
		return false
	}

	start := time.Now()
	results, err := s.runner.Run(ctx, req)
	elapsed := time.Since(start)
	s.counters.Record(err == nil, elapsed)
	if err != nil {
		log.Printf("dispatch: %s failed after %.3fs: %v", req, elapsed.Seconds(), err)
		protocol.WriteError(w, err)
		return false
	}
	log.Printf("dispatch: %s done in %.3fs", req, elapsed.Seconds())
	protocol.WriteResponse(w, protocol.Response{Engine: req.Engine, Results: results, Elapsed: elapsed})
	return false
}
