// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package api contains the health check handlers for liveness and readiness probes.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/respond"
)

// DependencyCheck pings one backing service for the /ready endpoint.
type DependencyCheck struct {
	// Name is reported verbatim in the readiness payload ("postgres", "redis", ...).
	Name string

	// Check returns nil when the dependency answers.
	Check func(context context.Context) error
}

type healthHandler struct {
	checks []DependencyCheck
	logger *slog.Logger
}

// NewHealthHandlers creates the /health and /ready http.HandlerFuncs.
//
// The account store backend decides which checks are passed in, so a memory
// deployment simply has fewer entries.
func NewHealthHandlers(checks []DependencyCheck, logger *slog.Logger) (liveness, readiness http.HandlerFunc) {
	handler := &healthHandler{checks: checks, logger: logger}
	return handler.liveness, handler.readiness
}

// liveness handles GET /health (Liveness probe).
func (handler *healthHandler) liveness(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, map[string]string{
		constants.FieldStatus:  "ok",
		constants.FieldApp:     constants.AppName,
		constants.FieldVersion: constants.AppVersion,
	})
}

// readiness handles GET /ready (Readiness probe).
func (handler *healthHandler) readiness(writer http.ResponseWriter, request *http.Request) {
	type checkResult struct {
		Name  string `json:"name"`
		IsOK  bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	results := make([]checkResult, 0, len(handler.checks))
	isSystemReady := true

	for _, dependency := range handler.checks {
		result := checkResult{Name: dependency.Name, IsOK: true}
		if err := dependency.Check(request.Context()); err != nil {
			result.IsOK = false
			result.Error = err.Error()
			isSystemReady = false
			handler.logger.Error("readiness_check_failed", slog.String("dependency", dependency.Name), slog.Any("error", err))
		}
		results = append(results, result)
	}

	payload := map[string]any{
		constants.FieldStatus: "ready",
		constants.FieldChecks: results,
	}

	if !isSystemReady {
		payload[constants.FieldStatus] = "degraded"
		respond.JSON(writer, http.StatusServiceUnavailable, respond.SuccessEnvelope{Data: payload})
		return
	}

	respond.OK(writer, payload)
}
