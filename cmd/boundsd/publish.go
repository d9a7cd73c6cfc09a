package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// maxPublishBody caps the JSON body of a publish request.
const maxPublishBody = 1 << 20

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// publisher is satisfied by *natspool.Pool.
type publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// publishHandler forwards a JSON body to NATS as msgpack.
func publishHandler(pub publisher, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := chi.URLParam(r, "subject")
		if !subjectPattern.MatchString(subject) {
			writeError(w, http.StatusBadRequest, "invalid subject")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxPublishBody)

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		if err := pub.Publish(r.Context(), subject, payload); err != nil {
			logger.Warn("publish", slog.String("subject", subject), slog.Any("err", err))
			writeError(w, http.StatusBadGateway, "publish failed")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
