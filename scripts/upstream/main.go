// Upstream is a fake streaming AI backend used for relay testing. It
// serves /health and /generate, emitting newline-delimited token chunks,
// and can be switched into failure or slow mode at runtime.
//
// Usage:
//
//	go run ./scripts/upstream -port 8081 -chunks 20 -delay 50ms
//	curl -X POST http://localhost:8081/toggle-fail
//	curl -X POST http://localhost:8081/toggle-slow
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

func main() {
	var (
		port   = flag.Int("port", 8081, "Port to listen on")
		chunks = flag.Int("chunks", 20, "Chunks per generation")
		delay  = flag.Duration("delay", 50*time.Millisecond, "Delay between chunks")
		slow   = flag.Duration("slow", 5*time.Second, "Extra latency in slow mode")
	)
	flag.Parse()

	var failing, crawling atomic.Bool

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, `{"error":"simulated failure"}`, http.StatusInternalServerError)
			return
		}

		if crawling.Load() {
			time.Sleep(*slow)
		}

		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")

		for i := 0; i < *chunks; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(*delay):
			}

			fmt.Fprintf(w, `{"token":"tok-%d"}`+"\n", i)
			if flusher != nil {
				flusher.Flush()
			}
		}
	})

	mux.HandleFunc("/toggle-fail", func(w http.ResponseWriter, r *http.Request) {
		now := !failing.Load()
		failing.Store(now)
		fmt.Fprintf(w, "failing=%v\n", now)
	})

	mux.HandleFunc("/toggle-slow", func(w http.ResponseWriter, r *http.Request) {
		now := !crawling.Load()
		crawling.Store(now)
		fmt.Fprintf(w, "slow=%v\n", now)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("fake upstream listening on %s (chunks=%d delay=%s)", addr, *chunks, *delay)
	log.Fatal(http.ListenAndServe(addr, mux))
}
