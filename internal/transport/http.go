package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/LeonAdeoye/market-service/internal/observ"
	"github.com/LeonAdeoye/market-service/internal/service"
	"github.com/LeonAdeoye/market-service/internal/throttle"
)

// NewMux wires the JSON API over the service facade.
func NewMux(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /subscribe", guard(handleSubscribe(svc)))
	mux.Handle("POST /unsubscribe", guard(handleUnsubscribe(svc)))
	mux.Handle("GET /subscriptions", guard(handleList(svc)))
	mux.Handle("GET /statusz", guard(handleStatus(svc)))
	mux.Handle("POST /interval", guard(handleInterval(svc)))
	mux.Handle("GET /healthz", observ.Health())
	mux.Handle("GET /metricsz", observ.Handler())
	return mux
}

// guard is the outermost per-request safety net: no handler panic may
// terminate the process.
func guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				observ.Error("http_handler_panic", map[string]any{
					"path":  r.URL.Path,
					"panic": rec,
				})
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func handleSubscribe(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req service.SubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		resp, err := svc.Subscribe(req)
		if err != nil {
			// request-level validation failure: caller-correctable
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		code := http.StatusOK
		if !resp.Success {
			// every instrument was rejected
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, resp)
	})
}

func handleUnsubscribe(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instrument string `json:"instrument"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Instrument) == "" {
			writeError(w, http.StatusBadRequest, "instrument is required")
			return
		}
		writeJSON(w, http.StatusOK, svc.Unsubscribe(req.Instrument))
	})
}

func handleList(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.List())
	})
}

func handleStatus(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
}

func handleInterval(svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Seconds int `json:"seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		var badInterval *throttle.InvalidIntervalError
		if err := svc.UpdateFetchInterval(req.Seconds); err != nil {
			code := http.StatusInternalServerError
			if errors.As(err, &badInterval) {
				code = http.StatusBadRequest
			}
			writeError(w, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"seconds": req.Seconds})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
