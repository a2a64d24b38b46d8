package httpd

import (
	"context"
	"io"
	"net/url"
)

// Request is one parsed HTTP request as handed to the application
// handler. The handler never sees transport bytes; Body is already
// framed and bounded.
type Request struct {
	Method string
	// RequestTarget is the exact target from the start-line, in one of
	// the four RFC 9112 forms. URL is its parsed form when the target is
	// origin-form or absolute-form, nil otherwise.
	RequestTarget string
	URL           *url.URL
	Proto         string // "HTTP/1.0" or "HTTP/1.1"
	Header        Header
	// Body yields exactly the request body, decoded from its wire
	// framing. It is a one-shot sequence; Close drains any unread
	// remainder so the connection can be reused.
	Body io.ReadCloser
	// ContentLength is the declared body length, -1 for chunked.
	ContentLength int64
	Host          string
	// RemoteAddr is the peer address, for logging and access control
	// only.
	RemoteAddr string
	// RequestID identifies this exchange in logs.
	RequestID string

	ctx context.Context
}

// Context returns the request's context. It is canceled when the
// connection's exchange is abandoned.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context replaced.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}
