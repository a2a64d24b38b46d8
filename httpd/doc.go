// Package httpd is a small, security-minded HTTP/1.1 server engine
// meant for embedding inside other programs rather than standing alone.
//
// The engine terminates HTTP/1.1 connections: it parses requests under
// RFC 9112 framing rules with hard resource bounds, sequences keep-alive
// and pipelined exchanges in receipt order, frames response bodies, and
// hands structured requests to an application Handler. Routing, static
// files and TLS belong to the embedding application.
//
// Highlights
//   - Strict parsing: CRLF-only line discipline, CL/TE conflict
//     rejection, obs-fold rejection, header and body size caps.
//   - Connection state machine with idle/header/write deadlines,
//     exchange caps and ordered pipelining.
//   - Privilege separation: bind while privileged, one-way drop to an
//     unprivileged identity before the first peer byte is read.
//   - Bounded worker pool, graceful shutdown, logging/metrics hooks.
//
// Quick start:
//
//	s := &httpd.Server{Addr: ":8080"}
//	s.Handler = httpd.HandlerFunc(func(w httpd.ResponseWriter, r *httpd.Request) {
//	    w.Header().Set("Content-Type", "text/plain; charset=utf-8")
//	    w.WriteHeader(200)
//	    w.Write([]byte("hello"))
//	})
//	if err := s.ListenAndServe(); err != nil { log.Fatal(err) }
package httpd
