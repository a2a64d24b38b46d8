package http1

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func readReq(t *testing.T, raw string, lim Limits) (*ParsedRequest, error) {
	t.Helper()
	r := &Reader{BR: bufio.NewReader(strings.NewReader(raw)), Limits: lim}
	return r.ReadRequest()
}

func TestReader_ContentLengthBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	pr, err := readReq(t, raw, Limits{})
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.Framing.Kind != FramingContentLength || pr.Framing.Length != 5 {
		t.Fatalf("framing=%v/%d", pr.Framing.Kind, pr.Framing.Length)
	}
	b, err := io.ReadAll(pr.Body)
	if err != nil {
		t.Fatalf("body read: %v", err)
	}
	if string(b) != "hello" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestReader_BodyExactlyN(t *testing.T) {
	// Bytes past Content-Length belong to the next message.
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabcdef"
	pr, err := readReq(t, raw, Limits{})
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	b, _ := io.ReadAll(pr.Body)
	if string(b) != "abc" {
		t.Fatalf("body=%q, want %q", string(b), "abc")
	}
}

func TestReader_TruncatedBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nshort"
	pr, err := readReq(t, raw, Limits{})
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	_, err = io.ReadAll(pr.Body)
	if !errors.Is(err, ErrTruncatedBody) {
		t.Fatalf("err=%v, want ErrTruncatedBody", err)
	}
}

func TestReader_CLTEConflict(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n"
	_, err := readReq(t, raw, Limits{})
	if !errors.Is(err, ErrFramingAmbiguity) {
		t.Fatalf("err=%v, want ErrFramingAmbiguity", err)
	}
}

func TestReader_TransferEncodingNotChunked(t *testing.T) {
	for _, te := range []string{"gzip", "gzip, chunked", "chunked, gzip", "identity"} {
		raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: " + te + "\r\n\r\n"
		if _, err := readReq(t, raw, Limits{}); err == nil {
			t.Fatalf("TE %q accepted", te)
		}
	}
}

func TestReader_ChunkedFraming(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n"
	pr, err := readReq(t, raw, Limits{})
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.Framing.Kind != FramingChunked {
		t.Fatalf("framing=%v", pr.Framing.Kind)
	}
	b, err := io.ReadAll(pr.Body)
	if err != nil {
		t.Fatalf("body read: %v", err)
	}
	if string(b) != "hey!!" {
		t.Fatalf("body=%q", string(b))
	}
}

func TestReader_DuplicateContentLength(t *testing.T) {
	// Identical repeats are tolerated, conflicting ones are not.
	ok := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\nContent-Length: 2\r\n\r\nhi"
	if _, err := readReq(t, ok, Limits{}); err != nil {
		t.Fatalf("identical duplicates rejected: %v", err)
	}
	bad := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 2\r\nContent-Length: 3\r\n\r\nhi"
	if _, err := readReq(t, bad, Limits{}); err == nil {
		t.Fatal("conflicting Content-Length accepted")
	}
}

func TestReader_MalformedContentLength(t *testing.T) {
	for _, v := range []string{"-1", "+5", "5 5", "0x5", ""} {
		raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: " + v + "\r\n\r\n"
		if _, err := readReq(t, raw, Limits{}); err == nil {
			t.Fatalf("Content-Length %q accepted", v)
		}
	}
}

func TestReader_DeclaredBodyTooLarge(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 100\r\n\r\n"
	_, err := readReq(t, raw, Limits{MaxBodyBytes: 10})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("err=%v, want ErrBodyTooLarge", err)
	}
}

func TestReader_StartLineExtraToken(t *testing.T) {
	raw := "GET / HTTP/1.1 extra\r\nHost: x\r\n\r\n"
	_, err := readReq(t, raw, Limits{})
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Rule != "start-line" {
		t.Fatalf("err=%v, want start-line ParseError", err)
	}
}

func TestReader_StartLineBadMethod(t *testing.T) {
	raw := "GE T / HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("start line with three spaces accepted")
	}
	raw = "G{}T / HTTP/1.1\r\nHost: x\r\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("non-token method accepted")
	}
}

func TestReader_VersionPolicy(t *testing.T) {
	for _, v := range []string{"HTTP/2.0", "HTTP/1.2", "HTTP/1", "http/1.1"} {
		raw := "GET / " + v + "\r\nHost: x\r\n\r\n"
		if _, err := readReq(t, raw, Limits{}); err == nil {
			t.Fatalf("version %q accepted", v)
		}
	}
	if _, err := readReq(t, "GET / HTTP/1.0\r\n\r\n", Limits{}); err != nil {
		t.Fatalf("HTTP/1.0 without Host rejected: %v", err)
	}
}

func TestReader_RequestTargetForms(t *testing.T) {
	for _, tc := range []struct {
		line string
		ok   bool
	}{
		{"GET / HTTP/1.1", true},
		{"GET /a/b?c=d HTTP/1.1", true},
		{"GET http://example.com/x HTTP/1.1", true},
		{"OPTIONS * HTTP/1.1", true},
		{"GET * HTTP/1.1", false},
		{"GET relative HTTP/1.1", false},
	} {
		raw := tc.line + "\r\nHost: x\r\n\r\n"
		_, err := readReq(t, raw, Limits{})
		if (err == nil) != tc.ok {
			t.Fatalf("%q: err=%v, want ok=%v", tc.line, err, tc.ok)
		}
	}
}

func TestReader_BareLFRejected(t *testing.T) {
	raw := "GET / HTTP/1.1\nHost: x\r\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("bare LF accepted in start line")
	}
	raw = "GET / HTTP/1.1\r\nHost: x\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("bare LF accepted in header line")
	}
}

func TestReader_ObsFoldRejected(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-A: one\r\n two\r\n\r\n"
	_, err := readReq(t, raw, Limits{})
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Rule != "header-line" {
		t.Fatalf("err=%v, want header-line ParseError", err)
	}
}

func TestReader_InvalidHeaderName(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nBad( : v\r\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("invalid header name accepted")
	}
}

func TestReader_HostRules(t *testing.T) {
	if _, err := readReq(t, "GET / HTTP/1.1\r\n\r\n", Limits{}); err == nil {
		t.Fatal("HTTP/1.1 without Host accepted")
	}
	raw := "GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n"
	if _, err := readReq(t, raw, Limits{}); err == nil {
		t.Fatal("duplicate Host accepted")
	}
}

func TestReader_HeaderBounds(t *testing.T) {
	long := strings.Repeat("a", 100)
	raw := "GET / HTTP/1.1\r\nHost: x\r\nX-Long: " + long + "\r\n\r\n"
	_, err := readReq(t, raw, Limits{MaxLineBytes: 40})
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("line cap: err=%v", err)
	}
	var many strings.Builder
	many.WriteString("GET / HTTP/1.1\r\nHost: x\r\n")
	for i := 0; i < 50; i++ {
		many.WriteString("X-H: v\r\n")
	}
	many.WriteString("\r\n")
	_, err = readReq(t, many.String(), Limits{MaxHeaderBytes: 100})
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("block cap: err=%v", err)
	}
	_, err = readReq(t, many.String(), Limits{MaxHeaderCount: 10})
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("count cap: err=%v", err)
	}
}

func TestReader_SequentialRequests(t *testing.T) {
	raw := "GET /a HTTP/1.1\r\nHost: x\r\n\r\nGET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	r := &Reader{BR: bufio.NewReader(strings.NewReader(raw))}
	pr, err := r.ReadRequest()
	if err != nil || pr.RequestTarget != "/a" {
		t.Fatalf("first: %v %v", pr, err)
	}
	pr, err = r.ReadRequest()
	if err != nil || pr.RequestTarget != "/b" {
		t.Fatalf("second: %v %v", pr, err)
	}
	if _, err := r.ReadRequest(); err != io.EOF {
		t.Fatalf("third err=%v, want io.EOF", err)
	}
}
