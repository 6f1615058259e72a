// Command mock-authority runs a deterministic check-token authority for
// local development and integration testing.
//
// Each --grant has the form client_id:token:user_id. A check-token request
// matching a grant succeeds with {"id": user_id, "client_id": client_id};
// anything else is rejected with success=false.
//
// Configuration:
//
//	--port / MOCK_PORT - Listen port (default: 9091)
//	--grant            - Accepted credential, repeatable (default: cli-9:abc123:u1)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9091"
	}
	pflag.StringVar(&port, "port", port, "listen port")
	grantSpecs := pflag.StringSlice("grant", []string{"cli-9:abc123:u1"}, "accepted credential as client_id:token:user_id")
	pflag.Parse()

	grants, err := parseGrants(*grantSpecs)
	if err != nil {
		slog.Error("invalid grants", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /check-token", checkTokenHandler(grants))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock authority starting", "port", port, "grants", len(grants))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock authority failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock authority shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

type grantKey struct {
	clientID string
	token    string
}

func parseGrants(values []string) (map[grantKey]string, error) {
	grants := make(map[grantKey]string, len(values))
	for _, v := range values {
		parts := strings.SplitN(v, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("grant %q: want client_id:token:user_id", v)
		}
		grants[grantKey{clientID: parts[0], token: parts[1]}] = parts[2]
	}
	return grants, nil
}

type checkTokenRequest struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

type checkTokenResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message,omitempty"`
}

func checkTokenHandler(grants map[grantKey]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkTokenRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		resp := checkTokenResponse{Message: "invalid token"}
		if userID, ok := grants[grantKey{clientID: req.ClientID, token: req.AccessToken}]; ok {
			resp = checkTokenResponse{
				Success: true,
				Data:    map[string]any{"id": userID, "client_id": req.ClientID},
			}
		}
		slog.Debug("check token", "client_id", req.ClientID, "success", resp.Success)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
