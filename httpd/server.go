package httpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dqx0.com/go/httpserver/httpd/internal/http1"
	"dqx0.com/go/httpserver/internal/obs"
	"dqx0.com/go/httpserver/internal/privsep"
)

// Handler is the application collaborator. It receives a structured
// Request and a response-builder; it never sees transport bytes.
type Handler interface {
	ServeHTTP(ResponseWriter, *Request)
}

type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeHTTP(w ResponseWriter, r *Request) { f(w, r) }

// Server is an embeddable HTTP/1.1 engine. Zero values get the defaults
// below; all limits are per connection.
type Server struct {
	Addr    string
	Handler Handler

	// Backlog is the listen(2) backlog used when the server binds its
	// own socket.
	Backlog int
	// WorkerCount bounds how many connections are served concurrently.
	WorkerCount int
	// DropToUser, when set, is the unprivileged identity assumed after
	// binding and before the first peer byte is read. Failure to drop is
	// fatal; the server never serves elevated.
	DropToUser string

	IdleTimeout   time.Duration // maximum time in Idle between exchanges
	HeaderTimeout time.Duration // first byte of a request to end of its header block
	WriteTimeout  time.Duration // per-response write budget
	// ExchangeTimeout bounds one whole exchange after its header block:
	// body reads, the handler, and the response writes. It is also the
	// request context's deadline. Negative disables it; zero means the
	// default.
	ExchangeTimeout time.Duration

	MaxHeaderBytes int   // whole header block
	MaxBodyBytes   int64 // declared or accumulated body size
	MaxExchanges   int   // exchanges per connection, 0 = unlimited

	Logger obs.Logger
	Meter  obs.Meter

	sched scheduler

	mu         sync.Mutex
	listener   net.Listener
	conns      map[*conn]struct{}
	inShutdown atomic.Bool
}

const (
	defaultWorkerCount = 256
	defaultIdleTimeout = 3 * time.Minute
	defaultHeaderTO    = 30 * time.Second
	defaultWriteTO     = time.Minute
	defaultExchangeTO  = 3 * time.Minute
)

// ListenAndServe binds the configured address while the process still
// holds its starting privileges, performs the one-way drop, then serves.
// Bind and drop failures are fatal before any peer byte is processed.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	pc, err := privsep.Bind(privsep.Spec{
		Addr:    addr,
		Backlog: s.Backlog,
		User:    s.DropToUser,
	})
	if err != nil {
		return fmt.Errorf("httpd: bind: %w", err)
	}
	ln, err := pc.Drop()
	if err != nil {
		return fmt.Errorf("httpd: privilege drop: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l and runs each over the bounded worker
// pool until Shutdown or a non-recoverable accept error.
func (s *Server) Serve(l net.Listener) error {
	s.sched.init(s.workerCount())
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	s.listener = l
	s.mu.Unlock()
	defer l.Close()

	var acceptDelay time.Duration
	for {
		c, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Transient accept failure: back off and retry.
				if acceptDelay == 0 {
					acceptDelay = 5 * time.Millisecond
				} else if acceptDelay *= 2; acceptDelay > time.Second {
					acceptDelay = time.Second
				}
				time.Sleep(acceptDelay)
				continue
			}
			return err
		}
		acceptDelay = 0
		s.sched.acquire()
		cn := s.newConn(c)
		s.trackConn(cn, true)
		if s.inShutdown.Load() {
			// Shutdown may have swept the connection set between Accept
			// and trackConn; never serve a connection it cannot see.
			s.trackConn(cn, false)
			s.sched.release()
			_ = c.Close()
			return ErrServerClosed
		}
		s.sched.active.Add(1)
		go func() {
			defer func() {
				s.sched.active.Add(-1)
				s.trackConn(cn, false)
				s.sched.release()
			}()
			cn.serve()
		}()
	}
}

// Shutdown stops accepting, lets in-flight exchanges finish until ctx
// expires, then force-closes the stragglers. Idle connections are closed
// immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for cn := range s.conns {
		if cn.State() == StateIdle {
			_ = cn.rwc.Close()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sched.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for cn := range s.conns {
			cn.setState(StateClosing)
			_ = cn.rwc.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// ActiveConnections reports how many connections are currently being
// served.
func (s *Server) ActiveConnections() int64 { return s.sched.active.Load() }

// TotalExchanges reports how many request/response exchanges completed.
func (s *Server) TotalExchanges() int64 { return s.sched.exchanges.Load() }

// TotalBytesWritten reports how many response body bytes were accepted
// from handlers across all connections.
func (s *Server) TotalBytesWritten() int64 { return s.sched.bytesWritten.Load() }

func (s *Server) newConn(c net.Conn) *conn {
	cn := &conn{
		srv:        s,
		rwc:        c,
		br:         bufio.NewReader(c),
		bw:         bufio.NewWriter(c),
		remoteAddr: c.RemoteAddr().String(),
	}
	cn.setState(StateIdle)
	return cn
}

func (s *Server) trackConn(cn *conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*conn]struct{})
	}
	if add {
		s.conns[cn] = struct{}{}
		s.sched.wg.Add(1)
	} else {
		delete(s.conns, cn)
		s.sched.wg.Done()
	}
}

func (s *Server) limits() http1.Limits {
	return http1.Limits{
		MaxHeaderBytes: s.MaxHeaderBytes,
		MaxBodyBytes:   s.MaxBodyBytes,
	}
}

func (s *Server) workerCount() int {
	if s.WorkerCount <= 0 {
		return defaultWorkerCount
	}
	return s.WorkerCount
}

func (s *Server) idleTimeout() time.Duration {
	if s.IdleTimeout == 0 {
		return defaultIdleTimeout
	}
	if s.IdleTimeout < 0 {
		return 0
	}
	return s.IdleTimeout
}

func (s *Server) headerTimeout() time.Duration {
	if s.HeaderTimeout == 0 {
		return defaultHeaderTO
	}
	if s.HeaderTimeout < 0 {
		return 0
	}
	return s.HeaderTimeout
}

func (s *Server) writeTimeout() time.Duration {
	if s.WriteTimeout == 0 {
		return defaultWriteTO
	}
	if s.WriteTimeout < 0 {
		return 0
	}
	return s.WriteTimeout
}

func (s *Server) exchangeTimeout() time.Duration {
	if s.ExchangeTimeout == 0 {
		return defaultExchangeTO
	}
	if s.ExchangeTimeout < 0 {
		return 0
	}
	return s.ExchangeTimeout
}

func (s *Server) logf(level obs.Level, format string, args ...interface{}) {
	if s.Logger == nil {
		return
	}
	s.Logger.Logf(level, format, args...)
}

func (s *Server) meterCount(name string, v float64, labels ...obs.Label) {
	if s.Meter == nil {
		return
	}
	s.Meter.Counter(name, v, labels...)
}
