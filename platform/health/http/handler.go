package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check проверка одной зависимости (postgres, redis, mongo)
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler возвращает handler для /health.
// 200 {"status":"ok"} если все проверки прошли, иначе 503 со списком упавших зависимостей.
func Handler(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		failed := make(map[string]string)
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				failed[c.Name] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "failed": failed})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
