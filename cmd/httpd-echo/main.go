// Command httpd-echo is a demonstration embedding of the httpd engine:
// it binds (possibly to a privileged port), drops privileges, and
// serves an echo application until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dqx0.com/go/httpserver/httpd"
	"dqx0.com/go/httpserver/internal/obs"
)

func main() {
	var (
		addr    = flag.String("addr", ":8080", "listen address")
		user    = flag.String("user", "", "unprivileged user to drop to after binding")
		workers = flag.Int("workers", 256, "maximum concurrent connections")
		maxHdr  = flag.Int("max-header", 64<<10, "header block size cap in bytes")
		maxBody = flag.Int64("max-body", 1<<20, "body size cap in bytes")
		idle    = flag.Duration("idle", 3*time.Minute, "idle connection timeout")
	)
	flag.Parse()

	logger := obs.StdLogger{L: log.New(os.Stderr, "httpd-echo ", log.LstdFlags), Min: obs.Info}

	s := &httpd.Server{
		Addr:           *addr,
		DropToUser:     *user,
		WorkerCount:    *workers,
		MaxHeaderBytes: *maxHdr,
		MaxBodyBytes:   *maxBody,
		IdleTimeout:    *idle,
		Logger:         logger,
		Handler:        httpd.HandlerFunc(echo),
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	if err := s.ListenAndServe(); err != nil && err != httpd.ErrServerClosed {
		// Bind and privilege failures land here, before any peer was
		// served.
		log.Fatal(err)
	}
}

func echo(w httpd.ResponseWriter, r *httpd.Request) {
	switch r.Method {
	case "GET", "HEAD":
		body := fmt.Sprintf("%s %s from %s\n", r.Method, r.RequestTarget, r.RemoteAddr)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.WriteHeader(200)
		_, _ = w.Write([]byte(body))
	case "POST", "PUT":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(200)
		_, _ = io.Copy(w, r.Body)
	default:
		w.WriteHeader(405)
	}
}
