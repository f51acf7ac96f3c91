package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carrot-kpi/defillama-answerer/pkg/specification"
)

// validationRequestBudget bounds how long a validation request will wait
// on the data provider before failing with a 400 rather than hanging.
const validationRequestBudget = 10 * time.Second

// ValidationHandler serves the one HTTP endpoint the core engine treats
// as an external collaborator (§6): a way for a KPI token creator to
// check, before submitting a specification on-chain, that it will
// validate the way C3 would validate it.
type ValidationHandler struct {
	dataProvider specification.DataProvider
	logger       *zap.Logger
}

// NewValidationHandler builds a ValidationHandler against the same data
// provider the engine itself validates specifications against.
func NewValidationHandler(dataProvider specification.DataProvider, logger *zap.Logger) *ValidationHandler {
	return &ValidationHandler{dataProvider: dataProvider, logger: logger}
}

// HandleValidate implements POST /specifications/validations: a
// Specification JSON body → 204 on valid, 400 on invalid or malformed.
func (h *ValidationHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := h.logger.With(zap.String("request_id", requestID))

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var spec specification.Specification
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		logger.Debug("malformed specification body", zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "malformed specification: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), validationRequestBudget)
	defer cancel()

	valid, err := spec.Payload.Validate(ctx, specification.Dependencies{DataProvider: h.dataProvider})
	if err != nil {
		logger.Warn("specification validation errored", zap.String("metric", spec.Metric), zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "validation could not complete: "+err.Error())
		return
	}
	if !valid {
		writeJSONError(w, http.StatusBadRequest, "specification failed validation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
