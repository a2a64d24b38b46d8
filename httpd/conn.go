package httpd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"dqx0.com/go/httpserver/httpd/internal/http1"
	"dqx0.com/go/httpserver/internal/obs"
)

// ConnState is the lifecycle state of one connection. Transitions are
// Idle → ReadingRequest → Dispatched → WritingResponse → Idle, with
// Closing on any error or timeout and Closed terminal.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateReadingRequest
	StateDispatched
	StateWritingResponse
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingRequest:
		return "reading-request"
	case StateDispatched:
		return "dispatched"
	case StateWritingResponse:
		return "writing-response"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// conn owns one accepted connection. The transport handle is exclusively
// its own for the connection's lifetime; no other task reads or writes
// it.
type conn struct {
	srv        *Server
	rwc        net.Conn
	br         *bufio.Reader
	bw         *bufio.Writer
	remoteAddr string

	state     atomic.Int32
	exchanges int
}

func (c *conn) setState(s ConnState) { c.state.Store(int32(s)) }

// State reports the connection's current lifecycle state.
func (c *conn) State() ConnState { return ConnState(c.state.Load()) }

// serve runs the connection state machine to completion. The logic is
// deliberately straight-line: one loop iteration is one exchange.
func (c *conn) serve() {
	defer func() {
		c.setState(StateClosed)
		_ = c.rwc.Close()
	}()
	for {
		if c.srv.inShutdown.Load() {
			c.setState(StateClosing)
			return
		}
		c.setState(StateIdle)
		if !c.awaitRequest() {
			return
		}

		c.setState(StateReadingRequest)
		if c.srv.headerTimeout() > 0 {
			_ = c.rwc.SetReadDeadline(time.Now().Add(c.srv.headerTimeout()))
		}
		rr := &http1.Reader{BR: c.br, Limits: c.srv.limits()}
		pr, err := rr.ReadRequest()
		if err != nil {
			c.replyParseError(err)
			c.setState(StateClosing)
			return
		}
		// The rest of the exchange (body reads, the handler, response
		// writes) runs under one absolute deadline, with the tighter
		// per-response write budget layered on top. A peer that stops
		// reading cannot pin the worker slot forever.
		var deadline time.Time
		if d := c.srv.exchangeTimeout(); d > 0 {
			deadline = time.Now().Add(d)
			_ = c.rwc.SetReadDeadline(deadline)
		}
		wd := deadline
		if d := c.srv.writeTimeout(); d > 0 {
			if t := time.Now().Add(d); wd.IsZero() || t.Before(wd) {
				wd = t
			}
		}
		if !wd.IsZero() {
			_ = c.rwc.SetWriteDeadline(wd)
		}

		if !c.exchange(pr, deadline) {
			c.setState(StateClosing)
			return
		}
		c.exchanges++
		if max := c.srv.MaxExchanges; max > 0 && c.exchanges >= max {
			c.setState(StateClosing)
			return
		}
	}
}

// awaitRequest blocks in Idle until the first byte of the next request
// arrives. The idle timer applies only here: a connection is never
// killed on the idle clock once a message is in flight.
func (c *conn) awaitRequest() bool {
	if c.srv.idleTimeout() > 0 {
		_ = c.rwc.SetReadDeadline(time.Now().Add(c.srv.idleTimeout()))
	} else {
		_ = c.rwc.SetReadDeadline(time.Time{})
	}
	if _, err := c.br.Peek(1); err != nil {
		if err != io.EOF {
			c.srv.logf(obs.Debug, "conn %s idle close: %v", c.remoteAddr, err)
		}
		c.setState(StateClosing)
		return false
	}
	return true
}

// exchange runs one request/response pair under the given absolute
// deadline. It returns whether the connection may serve another.
func (c *conn) exchange(pr *http1.ParsedRequest, deadline time.Time) bool {
	keepAlive := wantsKeepAlive(pr.Proto, pr.Header)
	if max := c.srv.MaxExchanges; max > 0 && c.exchanges+1 >= max {
		// Last allowed exchange: advertise the close up front.
		keepAlive = false
	}

	req := c.buildRequest(pr)
	ctx := context.Background()
	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		// Cooperating handlers observe the exchange deadline through
		// the request context.
		ctx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()
	req = WithContext(req, WithRequestID(ctx, req.RequestID))

	rw := newResponseWriter(c.bw, pr.Proto, pr.Method, keepAlive)

	if !implementedMethod(pr.Method) {
		// Valid token, not a method we dispatch.
		c.reply(501, true)
		return false
	}

	if pr.Proto == "HTTP/1.1" && strings.EqualFold(Header(pr.Header).Get("Expect"), "100-continue") && pr.Framing.Kind != http1.FramingNone {
		if err := http1.WriteContinue(c.bw); err != nil {
			return false
		}
		if err := c.bw.Flush(); err != nil {
			return false
		}
	}

	c.setState(StateDispatched)
	panicked := c.dispatch(rw, req)

	c.setState(StateWritingResponse)
	if panicked {
		if rw.wroteHeader {
			// Response bytes are in flight; appending error content into
			// an already-framed body would corrupt the stream.
			return false
		}
		rw.status = 500
		rw.hdr = Header{}
		rw.closeAfter = true
	}

	// Counters update before the final flush so an observer who has the
	// response also sees the exchange counted.
	c.srv.sched.exchanges.Add(1)
	c.srv.sched.bytesWritten.Add(rw.written)
	status := rw.status
	if status == 0 {
		status = 200
	}
	c.srv.meterCount("httpd_exchanges_total", 1, obs.Label{Key: "status", Value: statusClass(status)})

	reusable, err := rw.finish()
	if err != nil {
		c.srv.logf(obs.Warn, "conn %s write: %v", c.remoteAddr, err)
		return false
	}

	// The unread request body remainder must be drained before the next
	// head; a drain failure means the stream position is unknown.
	if err := req.Body.Close(); err != nil {
		c.srv.logf(obs.Warn, "conn %s body drain: %v", c.remoteAddr, err)
		return false
	}
	return reusable
}

// dispatch runs the application handler, containing any panic to this
// exchange.
func (c *conn) dispatch(rw *responseWriter, req *Request) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			c.srv.logf(obs.Error, "handler panic on %s %s: %v", req.Method, req.RequestTarget, v)
			c.srv.meterCount("httpd_handler_panics_total", 1)
		}
	}()
	h := c.srv.Handler
	if h == nil {
		h = HandlerFunc(func(w ResponseWriter, r *Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(404)
			_, _ = w.Write([]byte("not found\n"))
		})
	}
	h.ServeHTTP(rw, req)
	return false
}

func (c *conn) buildRequest(pr *http1.ParsedRequest) *Request {
	var u *url.URL
	if strings.HasPrefix(pr.RequestTarget, "/") {
		u, _ = url.ParseRequestURI(pr.RequestTarget)
	} else if strings.HasPrefix(pr.RequestTarget, "http://") || strings.HasPrefix(pr.RequestTarget, "https://") {
		u, _ = url.Parse(pr.RequestTarget)
	}
	hdr := Header(pr.Header)
	return &Request{
		Method:        pr.Method,
		RequestTarget: pr.RequestTarget,
		URL:           u,
		Proto:         pr.Proto,
		Header:        hdr,
		Body:          pr.Body,
		ContentLength: pr.Framing.BodyLength(),
		Host:          hdr.Get("Host"),
		RemoteAddr:    c.remoteAddr,
		RequestID:     genID(),
	}
}

// replyParseError maps a wire failure to a response, when one can still
// be sent, and logs the security-relevant ones.
func (c *conn) replyParseError(err error) {
	if err == io.EOF {
		return // clean close between messages
	}
	var pe *http1.ParseError
	if errors.As(err, &pe) {
		c.srv.meterCount("httpd_parse_errors_total", 1, obs.Label{Key: "rule", Value: pe.Rule})
	}
	switch {
	case errors.Is(err, http1.ErrFramingAmbiguity):
		c.srv.logf(obs.Error, "conn %s framing ambiguity (possible request smuggling): %v", c.remoteAddr, err)
		c.reply(400, true)
	case errors.Is(err, http1.ErrHeaderTooLarge):
		c.reply(431, true)
	case errors.Is(err, http1.ErrBodyTooLarge):
		c.reply(413, true)
	case isTimeout(err):
		if pe != nil && pe.Offset > 0 {
			// Mid-message timeout: the peer started a request and
			// stalled.
			c.srv.logf(obs.Info, "conn %s header read timeout: %v", c.remoteAddr, err)
			c.reply(408, true)
		}
		// A timeout with no bytes read is handled by awaitRequest.
	default:
		c.srv.logf(obs.Info, "conn %s parse error: %v", c.remoteAddr, err)
		c.reply(400, true)
	}
}

// reply writes an engine-generated response with an empty body.
func (c *conn) reply(status int, closeConn bool) {
	hdr := map[string][]string{}
	if err := http1.WriteResponse(c.bw, status, "", hdr, nil, closeConn); err != nil {
		return
	}
	_ = c.bw.Flush()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// wantsKeepAlive applies the RFC 9112 persistence defaults: HTTP/1.1 is
// persistent unless the peer says close, HTTP/1.0 only persists on an
// explicit keep-alive.
func wantsKeepAlive(proto string, hdr map[string][]string) bool {
	conn := strings.ToLower(strings.Join(Header(hdr).Values("Connection"), ","))
	if proto == "HTTP/1.1" {
		return !hasToken(conn, "close")
	}
	return hasToken(conn, "keep-alive")
}

func hasToken(list, token string) bool {
	for _, t := range strings.Split(list, ",") {
		if strings.TrimSpace(t) == token {
			return true
		}
	}
	return false
}

var implementedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

func implementedMethod(m string) bool { return implementedMethods[m] }

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
