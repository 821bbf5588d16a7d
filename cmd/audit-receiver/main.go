// audit-receiver is a throwaway webhook target for the audit emitter: point
// audit.webhook_url at it and watch the trail of a demo run in a second
// terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

func main() {
	addr := flag.String("addr", ":8099", "listen address for audit receiver")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/audit", handleAudit)
	mux.HandleFunc("/", handleAudit)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("audit receiver listening on %s (POST JSON to /audit)...", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("receiver error: %v", err)
	}
}

func handleAudit(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	var ev struct {
		Kind      string `json:"kind"`
		Query     string `json:"query"`
		AccountID string `json:"account_id"`
		Verdict   string `json:"verdict"`
		Outcome   string `json:"outcome"`
	}
	if err := json.Unmarshal(body, &ev); err != nil || ev.Kind == "" {
		log.Printf("received event: len=%d\n%s", len(body), string(body))
	} else {
		log.Printf("received %s: query=%q account=%s verdict=%s outcome=%s",
			ev.Kind, ev.Query, ev.AccountID, ev.Verdict, ev.Outcome)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, `{"status":"ok"}`)
}
