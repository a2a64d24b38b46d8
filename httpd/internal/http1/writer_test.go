package http1

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"
)

func render(t *testing.T, status int, hdr map[string][]string, fr Framing, closeConn bool) string {
	t.Helper()
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := WriteResponseHeader(bw, status, "", hdr, fr, closeConn); err != nil {
		t.Fatalf("WriteResponseHeader: %v", err)
	}
	bw.Flush()
	return buf.String()
}

func TestWriter_StatusLineAndDefaults(t *testing.T) {
	out := render(t, 200, nil, Framing{Kind: FramingContentLength, Length: 2}, false)
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", out)
	}
	if !strings.Contains(out, "Connection: keep-alive\r\n") {
		t.Fatalf("missing Connection: %q", out)
	}
	if !strings.Contains(out, "Date: ") {
		t.Fatalf("missing injected Date: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Fatalf("missing terminator: %q", out)
	}
}

func TestWriter_DateNotOverridden(t *testing.T) {
	old := Clock
	Clock = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { Clock = old }()

	out := render(t, 200, nil, Framing{Kind: FramingNone}, true)
	if !strings.Contains(out, "Date: Tue, 02 Jan 2024 03:04:05 GMT\r\n") {
		t.Fatalf("injected Date: %q", out)
	}
	supplied := map[string][]string{"Date": {"Mon, 01 Jan 2024 00:00:00 GMT"}}
	out = render(t, 200, supplied, Framing{Kind: FramingNone}, true)
	if strings.Count(out, "Date: ") != 1 || !strings.Contains(out, "Date: Mon, 01 Jan 2024") {
		t.Fatalf("caller Date not preserved: %q", out)
	}
}

func TestWriter_FramingHeadersAreAuthoritative(t *testing.T) {
	// A handler-supplied Content-Length must not leak into a chunked
	// response, nor a handler Transfer-Encoding anywhere.
	hdr := map[string][]string{
		"Content-Length":    {"999"},
		"Transfer-Encoding": {"gzip"},
		"Connection":        {"upgrade"},
	}
	out := render(t, 200, hdr, Framing{Kind: FramingChunked}, false)
	if strings.Contains(out, "Content-Length") {
		t.Fatalf("stray Content-Length: %q", out)
	}
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") || strings.Contains(out, "gzip") {
		t.Fatalf("Transfer-Encoding wrong: %q", out)
	}
	if strings.Contains(out, "upgrade") {
		t.Fatalf("caller Connection leaked: %q", out)
	}
}

func TestWriter_SanitizesValues(t *testing.T) {
	hdr := map[string][]string{"X-Injected": {"a\r\nEvil: yes"}}
	out := render(t, 200, hdr, Framing{Kind: FramingNone}, true)
	if strings.Contains(out, "Evil: yes") {
		t.Fatalf("header injection survived: %q", out)
	}
	if !strings.Contains(out, "X-Injected: aEvil: yes\r\n") {
		t.Fatalf("sanitized value: %q", out)
	}
}

func TestWriter_UnknownReason(t *testing.T) {
	out := render(t, 599, nil, Framing{Kind: FramingNone}, true)
	if !strings.HasPrefix(out, "HTTP/1.1 599 \r\n") {
		t.Fatalf("status line: %q", out)
	}
}

func TestWriter_ChunkStream(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if _, err := WriteChunk(bw, []byte("hello")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if n, err := WriteChunk(bw, nil); n != 0 || err != nil {
		t.Fatalf("empty chunk: n=%d err=%v", n, err)
	}
	if err := EndChunked(bw); err != nil {
		t.Fatalf("EndChunked: %v", err)
	}
	bw.Flush()
	if got := buf.String(); got != "5\r\nhello\r\n0\r\n\r\n" {
		t.Fatalf("wire=%q", got)
	}
}

func TestWriter_ErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := WriteResponse(bw, 400, "", nil, nil, true); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	bw.Flush()
	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n") {
		t.Fatalf("status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 0\r\n") || !strings.Contains(out, "Connection: close\r\n") {
		t.Fatalf("headers: %q", out)
	}
}

func TestBodilessStatus(t *testing.T) {
	for _, s := range []int{100, 101, 204, 304} {
		if !BodilessStatus(s) {
			t.Fatalf("%d should be bodiless", s)
		}
	}
	for _, s := range []int{200, 201, 301, 404, 500} {
		if BodilessStatus(s) {
			t.Fatalf("%d should allow a body", s)
		}
	}
}
