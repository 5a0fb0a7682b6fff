package main

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var requestCounter atomic.Uint64

// handler logs every notification body it receives and answers 204 like a
// Discord webhook would.
func handler(w http.ResponseWriter, r *http.Request) {
	count := requestCounter.Add(1)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("Error reading request body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ev := log.Info().Uint64("request", count).Str("method", r.Method).Str("path", r.URL.Path).
		Str("user_agent", r.Header.Get("User-Agent"))
	if json.Valid(body) {
		ev = ev.RawJSON("body", body)
	} else {
		ev = ev.Str("body", string(body))
	}
	ev.Msg("Webhook received")
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	addr := pflag.String("addr", ":8081", "Listen address")
	pflag.Parse()
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	http.HandleFunc("/", handler)
	log.Info().Str("addr", *addr).Msg("Webhook receiver starting")
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Webhook receiver failed")
	}
}
