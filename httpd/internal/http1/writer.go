package http1

import (
	"bufio"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the RFC 9110 IMF-fixdate layout used for the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Clock is overridable for tests that assert on the Date header.
var Clock = time.Now

// WriteResponseHeader writes the status line and header block for one
// response. It is the single place where framing headers are emitted:
// the Framing decision, not the caller's header map, determines
// Content-Length versus Transfer-Encoding. Date and Connection are
// injected when the caller did not supply them, so downstream semantics
// hold regardless of what the application set.
func WriteResponseHeader(bw *bufio.Writer, status int, reason string, hdr map[string][]string, fr Framing, closeConn bool) error {
	if reason == "" {
		reason = StatusText(status)
	}
	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", status, reason); err != nil {
		return err
	}
	if _, ok := hdr["Date"]; !ok {
		if _, err := fmt.Fprintf(bw, "Date: %s\r\n", Clock().UTC().Format(TimeFormat)); err != nil {
			return err
		}
	}
	switch fr.Kind {
	case FramingChunked:
		if _, err := fmt.Fprint(bw, "Transfer-Encoding: chunked\r\n"); err != nil {
			return err
		}
	case FramingContentLength:
		if _, err := fmt.Fprintf(bw, "Content-Length: %d\r\n", fr.Length); err != nil {
			return err
		}
	}
	for k, vv := range hdr {
		// Framing and connection management belong to the serializer.
		if k == "Connection" || k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		if sanitizeFieldName(k) == "" {
			continue
		}
		for _, v := range vv {
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, sanitizeFieldValue(v)); err != nil {
				return err
			}
		}
	}
	conn := "keep-alive"
	if closeConn {
		conn = "close"
	}
	if _, err := fmt.Fprintf(bw, "Connection: %s\r\n\r\n", conn); err != nil {
		return err
	}
	return nil
}

// WriteResponse writes a complete small response with a fixed body.
// Used for engine-generated error responses.
func WriteResponse(bw *bufio.Writer, status int, reason string, hdr map[string][]string, body []byte, closeConn bool) error {
	fr := Framing{Kind: FramingContentLength, Length: int64(len(body))}
	if err := WriteResponseHeader(bw, status, reason, hdr, fr, closeConn); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := bw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// WriteChunk writes one chunk of a chunked response body. Empty input
// writes nothing; a zero-size chunk would terminate the body.
func WriteChunk(bw *bufio.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(bw, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := bw.Write(p); err != nil {
		return 0, err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-size chunk with an empty
// trailer block.
func EndChunked(bw *bufio.Writer) error {
	_, err := bw.WriteString("0\r\n\r\n")
	return err
}

// BodilessStatus reports whether a status code forbids a response body.
func BodilessStatus(status int) bool {
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

func sanitizeFieldName(k string) string {
	if !validToken(k) {
		return ""
	}
	return k
}

func sanitizeFieldValue(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f || (c < 0x20 && c != '\t') {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
