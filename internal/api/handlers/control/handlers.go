// Package control implements the six recommendation/execution endpoints and
// the unauthenticated liveness probe.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/solari-labs/adctl/internal/adsapi"
	"github.com/solari-labs/adctl/internal/api/errors"
	"github.com/solari-labs/adctl/internal/api/middleware"
	"github.com/solari-labs/adctl/internal/approval"
	"github.com/solari-labs/adctl/internal/domain"
	"github.com/solari-labs/adctl/internal/execution"
	"github.com/solari-labs/adctl/internal/warehouse"
)

// decodeAndValidate decodes r's JSON body into dst and runs its validator
// struct tags, returning a single APIError that formats all failing fields
// for either failure mode.
func decodeAndValidate(r *http.Request, dst interface{}) *errors.APIError {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.ValidationError("malformed request body")
	}
	if err := middleware.ValidateStruct(dst); err != nil {
		fields := middleware.FormatValidationErrors(err)
		msgs := make([]string, len(fields))
		for i, f := range fields {
			msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Hint)
		}
		return errors.ValidationError(strings.Join(msgs, "; "))
	}
	return nil
}

// Handler wires the Approval Store, Execution Engine and Warehouse Reader
// for the HTTP boundary.
type Handler struct {
	approvals approval.Store
	engine    *execution.Engine
	warehouse warehouse.Reader
	logger    *slog.Logger
}

func New(approvals approval.Store, engine *execution.Engine, warehouseReader warehouse.Reader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{approvals: approvals, engine: engine, warehouse: warehouseReader, logger: logger}
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeAPIError(w http.ResponseWriter, r *http.Request, err *errors.APIError) {
	err = err.WithRequestID(middleware.GetRequestID(r.Context()))
	errors.WriteError(w, err)
}

// Healthz reports process liveness. No business logic, no auth.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executeRequest struct {
	RecommendationID string      `json:"recommendation_id" validate:"required"`
	Mode             adsapi.Mode `json:"mode" validate:"omitempty,oneof=DRY_RUN LIVE"`
	Approver         string      `json:"approver"`
}

type executeBatchRequest struct {
	RecommendationIDs []string    `json:"recommendation_ids" validate:"required,min=1"`
	Mode              adsapi.Mode `json:"mode" validate:"omitempty,oneof=DRY_RUN LIVE"`
	Approver          string      `json:"approver"`
}

type outcomeResponse struct {
	RecommendationID string `json:"recommendation_id"`
	Status           string `json:"status"`
	PlatformAck      string `json:"platform_ack,omitempty"`
	Error            string `json:"error,omitempty"`
}

func toOutcomeResponse(o execution.Outcome) outcomeResponse {
	resp := outcomeResponse{
		RecommendationID: o.RecommendationID,
		Status:           string(o.Status),
		PlatformAck:      o.PlatformAck,
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	return resp
}

// ExecuteRecommendation handles POST /api/execute-recommendation.
func (h *Handler) ExecuteRecommendation(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.writeAPIError(w, r, apiErr)
		return
	}
	if req.Mode == "" {
		req.Mode = adsapi.ModeDryRun
	}

	outcomes := h.engine.ExecuteBatch(r.Context(), []string{req.RecommendationID}, req.Mode, req.Approver)
	sendJSON(w, http.StatusOK, toOutcomeResponse(outcomes[0]))
}

// ExecuteBatch handles POST /api/execute-batch.
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var req executeBatchRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.writeAPIError(w, r, apiErr)
		return
	}
	if req.Mode == "" {
		req.Mode = adsapi.ModeDryRun
	}

	outcomes := h.engine.ExecuteBatch(r.Context(), req.RecommendationIDs, req.Mode, req.Approver)
	resp := make([]outcomeResponse, len(outcomes))
	for i, o := range outcomes {
		resp[i] = toOutcomeResponse(o)
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"outcomes": resp})
}

type approveRequest struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
	Approver         string `json:"approver" validate:"required"`
}

// Approve handles POST /api/approve.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.writeAPIError(w, r, apiErr)
		return
	}
	if err := h.approvals.Approve(r.Context(), req.RecommendationID, req.Approver); err != nil {
		h.writeAPIError(w, r, errors.FromDomainError(err))
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"recommendation_id": req.RecommendationID, "status": string(domain.StatusApproved)})
}

type rejectRequest struct {
	RecommendationID string `json:"recommendation_id" validate:"required"`
	Approver         string `json:"approver" validate:"required"`
	Reason           string `json:"reason"`
}

// Reject handles POST /api/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if apiErr := decodeAndValidate(r, &req); apiErr != nil {
		h.writeAPIError(w, r, apiErr)
		return
	}
	if err := h.approvals.Reject(r.Context(), req.RecommendationID, req.Approver, req.Reason); err != nil {
		h.writeAPIError(w, r, errors.FromDomainError(err))
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"recommendation_id": req.RecommendationID, "status": string(domain.StatusRejected)})
}

// Status handles GET /api/status/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.writeAPIError(w, r, errors.ValidationError("recommendation id is required"))
		return
	}
	rec, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		h.writeAPIError(w, r, errors.NotFoundError("recommendation"))
		return
	}
	sendJSON(w, http.StatusOK, rec)
}

// Changes handles GET /api/changes?customer_id=&since=.
func (h *Handler) Changes(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		h.writeAPIError(w, r, errors.ValidationError("customer_id is required"))
		return
	}
	since := time.Now().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeAPIError(w, r, errors.ValidationError("since must be RFC3339"))
			return
		}
		since = parsed
	}

	records, err := h.warehouse.GetRecentChanges(r.Context(), customerID, since)
	if err != nil {
		h.writeAPIError(w, r, errors.FromDomainError(err))
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"changes": records})
}
