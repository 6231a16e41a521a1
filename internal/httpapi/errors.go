package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/iotaledger/product-core-sub000/internal/audit"
	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"

	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorReason(w, r, code, msg, "")
}

func writeErrorReason(w http.ResponseWriter, r *http.Request, code int, msg, reason string) {
	body := map[string]any{"error": msg}
	if reason != "" {
		body["reason"] = reason
	}
	if r != nil {
		if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
			body["request_id"] = rid
		}
	}
	writeJSON(w, code, body)
}

// respondServiceError maps domain errors to status codes.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reason := rolemap.Reason(err)
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		writeErrorReason(w, r, http.StatusUnauthorized, "invalid token", "invalid_token")
	case errors.Is(err, auth.ErrInvalidCaller):
		writeErrorReason(w, r, http.StatusUnauthorized, "invalid caller assertion", "invalid_caller")
	case rolemap.IsUnauthorized(err):
		writeErrorReason(w, r, http.StatusForbidden, err.Error(), reason)
	case errors.Is(err, counter.ErrNotFound):
		writeErrorReason(w, r, http.StatusNotFound, "counter not found", "counter_not_found")
	case errors.Is(err, rolemap.ErrRoleNotFound),
		errors.Is(err, rolemap.ErrCapabilityNotIssued):
		writeErrorReason(w, r, http.StatusNotFound, err.Error(), reason)
	case errors.Is(err, counter.ErrStale):
		writeErrorReason(w, r, http.StatusConflict, "counter was modified concurrently", "stale_counter")
	case errors.Is(err, rolemap.ErrRoleAlreadyExists),
		errors.Is(err, rolemap.ErrInitialAdminRoleCannotBeDeleted),
		errors.Is(err, rolemap.ErrInitialAdminPermissionsInconsistent),
		errors.Is(err, rolemap.ErrInitialAdminCapabilityMustBeExplicitlyDestroyed),
		errors.Is(err, rolemap.ErrCapabilityIsNotInitialAdmin):
		writeErrorReason(w, r, http.StatusConflict, err.Error(), reason)
	case errors.Is(err, rolemap.ErrInvalidValidityPeriod),
		errors.Is(err, rolemap.ErrInvalidInput),
		errors.Is(err, capability.ErrInvalidInput),
		errors.Is(err, rolemap.ErrTargetMismatch),
		errors.Is(err, counter.ErrUnknownPermission),
		errors.Is(err, errBadRequest):
		if reason == "unknown" {
			reason = "invalid_input"
		}
		writeErrorReason(w, r, http.StatusBadRequest, err.Error(), reason)
	default:
		obs.Logger().Error("request_failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty request body", errBadRequest)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", errBadRequest)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", errBadRequest)
		}
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after json body", errBadRequest)
	}
	return nil
}

func parsePositiveInt(v string, fallback int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", errBadRequest, v)
	}
	return n, nil
}

func parseBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", errBadRequest, v)
	}
	return b, nil
}
