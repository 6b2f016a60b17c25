// Command demobackend is a thin upstream target used to exercise the
// gateway in development. It is deliberately not part of the gateway
// itself and carries none of its middleware or logging stack.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	port := flag.Int("port", 9001, "Port to listen on")
	name := flag.String("name", "backend-a", "Backend identifier echoed in responses")
	failRate := flag.Float64("fail-rate", 0, "Fraction of requests (0-1) answered with 500, for exercising the circuit breaker")
	latency := flag.Duration("latency", 0, "Artificial delay added before responding, for exercising the upstream timeout")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	var counter int
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *latency > 0 {
			time.Sleep(*latency)
		}

		counter++
		if *failRate > 0 && shouldFail(counter, *failRate) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "simulated failure from %s\n", *name)
			return
		}

		hostname, _ := os.Hostname()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - response from %s on host %s\n", *name, hostname)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("demo backend %s listening on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("demo backend failed: %v", err)
	}
}

// shouldFail deterministically fails roughly failRate of requests, cycling
// every 100 calls so behavior is reproducible across runs.
func shouldFail(counter int, failRate float64) bool {
	threshold := int(failRate * 100)
	return counter%100 < threshold
}
