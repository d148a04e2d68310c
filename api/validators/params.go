package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/bookswap-backend/pkg/errors"
)

func paramError(field, message string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
}

// ParseUUIDParam reads a required UUID route parameter.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, paramError(name, name+" is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, paramError(name, "invalid "+name, nil)
	}
	return id, nil
}

// ParseQueryInt reads an optional integer query parameter bounded to
// [lo, hi]. A missing value yields def.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError(key, "query parameter must be numeric", nil)
	}
	if value < lo || value > hi {
		return 0, paramError(key, "query parameter out of range", map[string]any{"min": lo, "max": hi})
	}
	return value, nil
}

// ParseQueryBool reads an optional boolean query parameter. Missing means
// false.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	switch strings.ToLower(raw) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, paramError(key, "query parameter must be a boolean", nil)
	}
	return value, nil
}
