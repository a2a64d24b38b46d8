package httpd

import (
	"bufio"
	"strconv"
	"strings"

	"dqx0.com/go/httpserver/httpd/internal/http1"
)

// ResponseWriter is the response-builder capability handed to a Handler.
// Framing and connection management stay with the engine: the writer
// decides Content-Length versus chunked, suppresses bodies on HEAD and
// bodiless statuses, and injects Date and Connection.
type ResponseWriter interface {
	Header() Header
	WriteHeader(status int)
	Write(p []byte) (int, error)
}

// responseWriter streams one response. The framing decision is made
// once, when the header block goes out: Content-Length if the handler
// declared one, chunked for an HTTP/1.1 keep-alive peer, otherwise
// close-delimited.
type responseWriter struct {
	bw     *bufio.Writer
	proto  string // request protocol version
	method string // request method, for HEAD suppression

	keepAlive bool // persistence intent going into this exchange
	hdr       Header
	status    int

	wroteHeader bool
	framing     http1.Framing
	rawBody     bool // close-delimited: body bytes with no framing header
	discardBody bool // HEAD or bodiless status
	closeAfter  bool
	written     int64 // body bytes accepted from the handler
	writeErr    error
}

func newResponseWriter(bw *bufio.Writer, proto, method string, keepAlive bool) *responseWriter {
	return &responseWriter{bw: bw, proto: proto, method: method, keepAlive: keepAlive, hdr: Header{}}
}

func (w *responseWriter) Header() Header { return w.hdr }

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	if status < 100 || status > 599 {
		status = 500
	}
	w.status = status
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	if !w.wroteHeader {
		if err := w.start(); err != nil {
			return 0, err
		}
	}
	if w.discardBody {
		// The body is never transmitted for HEAD or bodiless statuses,
		// whatever the handler supplies.
		return len(p), nil
	}
	switch {
	case w.framing.Kind == http1.FramingChunked:
		n, err := http1.WriteChunk(w.bw, p)
		if err != nil {
			w.writeErr = err
			return n, err
		}
		w.written += int64(n)
		return n, nil
	case w.framing.Kind == http1.FramingContentLength:
		// Bytes beyond the declared length are ignored, never smuggled
		// past the frame.
		room := w.framing.Length - w.written
		if room <= 0 {
			return len(p), nil
		}
		q := p
		if int64(len(q)) > room {
			q = q[:room]
		}
		n, err := w.bw.Write(q)
		w.written += int64(n)
		if err != nil {
			w.writeErr = err
			return n, err
		}
		return len(p), nil
	default: // close-delimited
		n, err := w.bw.Write(p)
		w.written += int64(n)
		if err != nil {
			w.writeErr = err
		}
		return n, err
	}
}

// Flush implements Flusher.
func (w *responseWriter) Flush() error {
	if w.writeErr != nil {
		return w.writeErr
	}
	if !w.wroteHeader {
		if err := w.start(); err != nil {
			return err
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.writeErr = err
		return err
	}
	return nil
}

// start freezes the framing decision and emits the header block.
func (w *responseWriter) start() error {
	if w.wroteHeader {
		return nil
	}
	if w.status == 0 {
		w.status = 200
	}
	if strings.EqualFold(w.hdr.Get("Connection"), "close") {
		w.closeAfter = true
	}
	declared, hasCL := w.declaredLength()
	w.discardBody = w.method == "HEAD" || http1.BodilessStatus(w.status)
	switch {
	case w.discardBody:
		// No body on the wire; a declared Content-Length survives so a
		// HEAD response mirrors the GET it stands for.
		if hasCL {
			w.framing = http1.Framing{Kind: http1.FramingContentLength, Length: declared}
		} else {
			w.framing = http1.Framing{Kind: http1.FramingNone}
		}
	case hasCL:
		w.framing = http1.Framing{Kind: http1.FramingContentLength, Length: declared}
	case w.proto == "HTTP/1.1" && w.keepAlive && !w.closeAfter:
		w.framing = http1.Framing{Kind: http1.FramingChunked}
	default:
		// HTTP/1.0 peer (or closing connection) with unknown length:
		// the close delimits the body.
		w.framing = http1.Framing{Kind: http1.FramingNone}
		w.rawBody = true
		w.closeAfter = true
	}
	closeConn := w.closeAfter || !w.keepAlive
	if err := http1.WriteResponseHeader(w.bw, w.status, "", w.hdr, w.framing, closeConn); err != nil {
		w.writeErr = err
		return err
	}
	w.wroteHeader = true
	return nil
}

func (w *responseWriter) declaredLength() (int64, bool) {
	v := w.hdr.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
	}
	// A digit string can still overflow int64; such a declaration is
	// unusable as a frame, so treat it as absent.
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// finish completes the response after the handler returns. If nothing
// was written yet the response becomes a fixed-length one covering the
// zero bytes written so far. Returns whether the connection may be
// reused.
func (w *responseWriter) finish() (bool, error) {
	if w.writeErr != nil {
		return false, w.writeErr
	}
	if !w.wroteHeader {
		// Handler produced no body: emit an exact empty frame rather
		// than guessing.
		if w.status == 0 {
			w.status = 200
		}
		if w.hdr.Get("Content-Length") == "" && w.method != "HEAD" && !http1.BodilessStatus(w.status) {
			w.hdr.Set("Content-Length", "0")
		}
		if err := w.start(); err != nil {
			return false, err
		}
	}
	if w.framing.Kind == http1.FramingChunked && !w.discardBody {
		if err := http1.EndChunked(w.bw); err != nil {
			w.writeErr = err
			return false, err
		}
	}
	if err := w.bw.Flush(); err != nil {
		w.writeErr = err
		return false, err
	}
	reusable := w.keepAlive && !w.closeAfter && !w.rawBody
	// A short fixed-length body would desynchronize the peer; close.
	if w.framing.Kind == http1.FramingContentLength && !w.discardBody && w.written < w.framing.Length {
		reusable = false
	}
	return reusable, nil
}
