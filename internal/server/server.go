// ABOUTME: Accept loop, per-client multiplexing loop and listener supervisor
// ABOUTME: One client at a time; the engine is maintained between clients

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/TinLe/localslackirc/internal/chat"
	"github.com/TinLe/localslackirc/internal/irc"
)

// Defaults for Options.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultRestartBurst = 3
	DefaultRestartRate  = rate.Limit(1.0 / 10)
	maxLineLength       = 1 << 20
)

// Stream is the event source the loop drives.
type Stream interface {
	// Next returns the next event, or false once nothing is pending.
	Next(ctx context.Context) (chat.Event, bool)
	// Maintain keeps the connection up without consuming events.
	Maintain(ctx context.Context)
	// Ready fires when Next may have something new.
	Ready() <-chan struct{}
}

// Session handles one client connection.
type Session interface {
	Command(ctx context.Context, line string) error
	Event(ctx context.Context, ev chat.Event) error
}

// NewSessionFunc creates the session for a freshly accepted client.
type NewSessionFunc func(w io.Writer) Session

// ListenFunc opens the listener. It is called again after a listener failure.
type ListenFunc func(ctx context.Context) (net.Listener, error)

// Options configures a Server.
type Options struct {
	PollInterval time.Duration
	RestartRate  rate.Limit
	RestartBurst int
	Logger       *slog.Logger
}

// Server serves IRC clients from a Stream.
type Server struct {
	stream     Stream
	newSession NewSessionFunc
	poll       time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
	attached   atomic.Bool
}

// New creates a server.
func New(stream Stream, newSession NewSessionFunc, opts Options) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RestartRate <= 0 {
		opts.RestartRate = DefaultRestartRate
	}
	if opts.RestartBurst <= 0 {
		opts.RestartBurst = DefaultRestartBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		stream:     stream,
		newSession: newSession,
		poll:       opts.PollInterval,
		limiter:    rate.NewLimiter(opts.RestartRate, opts.RestartBurst),
		logger:     logger.With("component", "server"),
	}
}

// Attached reports whether a client is connected right now.
func (s *Server) Attached() bool { return s.attached.Load() }

// Run opens listeners with listen and serves them until ctx is cancelled.
func (s *Server) Run(ctx context.Context, listen ListenFunc) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		ln, err := listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("listen failed", "error", err)
			continue
		}
		err = s.Serve(ctx, ln)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Error("listener failed, restarting", "error", err)
	}
}

// Serve accepts clients on ln one at a time until ctx is cancelled or the
// listener fails. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	conns := make(chan net.Conn)
	acceptErr := make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptErr <- err
				return
			}
			select {
			case conns <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	defer ln.Close()

	s.logger.Info("listening", "addr", ln.Addr().String())
	s.stream.Maintain(ctx)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-acceptErr:
			return fmt.Errorf("accept: %w", err)
		case conn := <-conns:
			s.serveConn(ctx, conn)
		case <-ticker.C:
			s.stream.Maintain(ctx)
		}
	}
}

// serveConn runs one client to completion. A panic in the session closes
// the connection and nothing else.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	s.attached.Store(true)
	defer s.attached.Store(false)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger.Info("client connected")
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go readLines(connCtx, conn, lines, readErr)

	sess := s.newSession(conn)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			logger.Info("client disconnected", "error", err)
			return
		case line := <-lines:
			if err := sess.Command(connCtx, line); err != nil {
				if errors.Is(err, irc.ErrQuit) {
					logger.Info("client quit")
				} else {
					logger.Warn("client write failed", "error", err)
				}
				return
			}
		case <-s.stream.Ready():
		case <-ticker.C:
		}

		if err := s.pump(connCtx, sess); err != nil {
			logger.Warn("client write failed", "error", err)
			return
		}
	}
}

// pump delivers events until the stream has nothing more.
func (s *Server) pump(ctx context.Context, sess Session) error {
	for {
		ev, ok := s.stream.Next(ctx)
		if !ok {
			return nil
		}
		if err := sess.Event(ctx, ev); err != nil {
			return err
		}
	}
}

// readLines sends complete lines from r with surrounding whitespace (and the
// terminator) stripped. A line is only delivered once its newline arrived. The final error, io.EOF on a
// clean close, goes to errs.
func readLines(ctx context.Context, r io.Reader, lines chan<- string, errs chan<- error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxLineLength)
	sc.Split(scanTerminatedLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	errs <- err
}

// scanTerminatedLines is bufio.ScanLines without the final unterminated line.
func scanTerminatedLines(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		if b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
