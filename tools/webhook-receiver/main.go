// webhook-receiver is a local stand-in for the Discord webhook: it
// accepts the multipart payload tradebot sends, records the message
// JSON and attachment names, and exposes what it saw for assertions in
// smoke tests.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type delivery struct {
	Timestamp   string          `json:"timestamp"`
	PayloadJSON json.RawMessage `json:"payload_json"`
	Attachments []string        `json:"attachments"`
}

type stats struct {
	Count          int64      `json:"count"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	d := delivery{Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		http.Error(w, "expected multipart body", http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "bad multipart body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if payload := r.FormValue("payload_json"); payload != "" {
		d.PayloadJSON = json.RawMessage(payload)
	}

	if r.MultipartForm != nil {
		for field, files := range r.MultipartForm.File {
			for _, fh := range files {
				d.Attachments = append(d.Attachments, field+": "+fh.Filename)
				// Drain so large screenshots do not pile up in temp files.
				if f, err := fh.Open(); err == nil {
					io.Copy(io.Discard, f)
					f.Close()
				}
			}
		}
	}

	mu.Lock()
	count++
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("hook received #%d: %d attachment(s), payload=%s", current, len(d.Attachments), string(d.PayloadJSON))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
