package controllers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/bookswap-backend/api/responses"
	"github.com/angelmondragon/bookswap-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
	"github.com/angelmondragon/bookswap-backend/pkg/logger"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

const readyTimeout = 2 * time.Second

type depStatus struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Bookswap-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency in parallel under one deadline. Any
// failure makes the instance unready.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Bookswap-Env", cfg.App.Env)
		statuses := pingAll(r.Context(), deps)

		failed := map[string]string{}
		for _, s := range statuses {
			if !s.OK {
				failed[s.Name] = s.Error
			}
		}
		if len(failed) > 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}

func pingAll(ctx context.Context, deps map[string]Pinger) []depStatus {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		statuses []depStatus
		g        errgroup.Group
	)
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			err := dep.Ping(ctx)
			s := depStatus{Name: name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				s.Error = err.Error()
			}
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
