// Relaytest verifies circuit breaker, rate limit, and retry behavior of a
// running relay by driving a fake upstream (scripts/upstream) through its
// failure modes and watching the relay's responses and /health output.
//
// Usage:
//
//	go run ./scripts/upstream -port 8081 &
//	go run ./cmd &
//	go run ./scripts/relaytest -relay http://localhost:8080 -upstream http://localhost:8081 -category chat
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func main() {
	var (
		relayURL    = flag.String("relay", "http://localhost:8080", "Relay URL")
		upstreamURL = flag.String("upstream", "http://localhost:8081", "Fake upstream URL")
		category    = flag.String("category", "chat", "Relay category to exercise")
		requests    = flag.Int("requests", 10, "Requests per phase")
	)
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}

	fmt.Println(colorCyan + "━━━ RESILIENCE RELAY TEST ━━━" + colorReset)

	fmt.Println(colorBlue + "━━━ PHASE 1: Normal streaming ━━━" + colorReset)
	for i := 0; i < *requests; i++ {
		status, chunks, err := relay(client, *relayURL, *category)
		report(i, status, chunks, err)
	}

	fmt.Println(colorBlue + "━━━ PHASE 2: Upstream failing, circuit should open ━━━" + colorReset)
	toggle(client, *upstreamURL, "/toggle-fail")

	fastFails := 0
	for i := 0; i < *requests; i++ {
		start := time.Now()
		status, chunks, err := relay(client, *relayURL, *category)
		report(i, status, chunks, err)

		if status == http.StatusServiceUnavailable && time.Since(start) < 100*time.Millisecond {
			fastFails++
		}
	}

	if fastFails > 0 {
		fmt.Printf(colorGreen+"  circuit opened: %d fast-failed requests\n"+colorReset, fastFails)
	} else {
		fmt.Println(colorRed + "  circuit never opened" + colorReset)
	}

	showHealth(client, *relayURL)

	fmt.Println(colorBlue + "━━━ PHASE 3: Upstream recovered ━━━" + colorReset)
	toggle(client, *upstreamURL, "/toggle-fail")

	fmt.Println("waiting for reset timeout and half-open probes...")
	time.Sleep(35 * time.Second)

	recovered := false
	for i := 0; i < *requests; i++ {
		status, chunks, err := relay(client, *relayURL, *category)
		report(i, status, chunks, err)

		if status == http.StatusOK && chunks > 0 {
			recovered = true
		}
	}

	if recovered {
		fmt.Println(colorGreen + "  circuit closed again, streaming restored" + colorReset)
	} else {
		fmt.Println(colorRed + "  relay did not recover" + colorReset)
		os.Exit(1)
	}

	showHealth(client, *relayURL)
}

func relay(client *http.Client, relayURL, category string) (status, chunks int, err error) {
	resp, err := client.Post(
		relayURL+"/v1/relay/"+category,
		"application/json",
		strings.NewReader(`{"prompt":"hello"}`),
	)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, 0, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			chunks++
		}
	}

	return resp.StatusCode, chunks, scanner.Err()
}

func report(i, status, chunks int, err error) {
	switch {
	case err != nil:
		fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
	case status == http.StatusOK:
		fmt.Printf(colorGreen+"  Request %d: %d chunks\n"+colorReset, i+1, chunks)
	default:
		fmt.Printf(colorYellow+"  Request %d: status %d\n"+colorReset, i+1, status)
	}
}

func toggle(client *http.Client, upstreamURL, path string) {
	resp, err := client.Post(upstreamURL+path, "text/plain", nil)
	if err != nil {
		fmt.Printf(colorRed+"  failed to toggle upstream: %v\n"+colorReset, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

func showHealth(client *http.Client, relayURL string) {
	resp, err := client.Get(relayURL + "/health")
	if err != nil {
		fmt.Printf(colorRed+"  health check failed: %v\n"+colorReset, err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	fmt.Printf("  /health (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}
