package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/solari-labs/adctl/internal/api/errors"
	"github.com/solari-labs/adctl/internal/approval"
	"github.com/solari-labs/adctl/internal/domain"
)

type fakeApprovalStore struct {
	approveErr error
	rejectErr  error
}

func (f *fakeApprovalStore) ReplacePending(ctx context.Context, customerID, snapshotDate string, recs []domain.Recommendation) error {
	return nil
}
func (f *fakeApprovalStore) Get(ctx context.Context, recommendationID string) (domain.Recommendation, error) {
	return domain.Recommendation{RecommendationID: recommendationID}, nil
}
func (f *fakeApprovalStore) Approve(ctx context.Context, recommendationID, approver string) error {
	return f.approveErr
}
func (f *fakeApprovalStore) Reject(ctx context.Context, recommendationID, approver, reason string) error {
	return f.rejectErr
}
func (f *fakeApprovalStore) List(ctx context.Context, filter approval.Filter) ([]domain.Recommendation, error) {
	return nil, nil
}
func (f *fakeApprovalStore) MarkExecuted(ctx context.Context, recommendationID, approver string) error {
	return nil
}
func (f *fakeApprovalStore) MarkFailed(ctx context.Context, recommendationID, reason string) error {
	return nil
}
func (f *fakeApprovalStore) ExpireOverdue(ctx context.Context, customerID string, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeWarehouseReader struct{}

func (f *fakeWarehouseReader) GetEntityWindow(ctx context.Context, kind domain.EntityKind, customerID, snapshotDate string, windowDays int) ([]domain.EntityWithMetrics, error) {
	return nil, nil
}
func (f *fakeWarehouseReader) GetRecentChanges(ctx context.Context, customerID string, since time.Time) ([]domain.ChangeRecord, error) {
	return nil, nil
}
func (f *fakeWarehouseReader) GetEntityMetricsBetween(ctx context.Context, id domain.EntityID, start, end time.Time) ([]domain.MetricRow, error) {
	return nil, nil
}
func (f *fakeWarehouseReader) GetCurrentEntity(ctx context.Context, id domain.EntityID) (domain.Entity, error) {
	return domain.Entity{}, nil
}

func testHandler() *Handler {
	return New(&fakeApprovalStore{}, nil, &fakeWarehouseReader{}, nil)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var resp errors.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error envelope: %v", err)
	}
	return resp
}

func TestApproveRejectsMissingFields(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`{"recommendation_id":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/approve", body)
	rec := httptest.NewRecorder()

	h.Approve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Code != errors.CodeValidationError {
		t.Errorf("expected validation error code, got %s", resp.Error.Code)
	}
}

func TestApproveAcceptsValidBody(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`{"recommendation_id":"rec-1","approver":"alice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/approve", body)
	rec := httptest.NewRecorder()

	h.Approve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRejectRequiresApprover(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`{"recommendation_id":"rec-1","reason":"bad fit"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/reject", body)
	rec := httptest.NewRecorder()

	h.Reject(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteRecommendationRejectsUnknownMode(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`{"recommendation_id":"rec-1","mode":"YOLO"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/execute-recommendation", body)
	rec := httptest.NewRecorder()

	h.ExecuteRecommendation(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an invalid mode, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteBatchRejectsEmptyIDs(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`{"recommendation_ids":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/execute-batch", body)
	rec := httptest.NewRecorder()

	h.ExecuteBatch(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteRecommendationRejectsMalformedBody(t *testing.T) {
	h := testHandler()
	body := bytes.NewBufferString(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/api/execute-recommendation", body)
	rec := httptest.NewRecorder()

	h.ExecuteRecommendation(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusRequiresID(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/status/", nil)
	req = mux.SetURLVars(req, map[string]string{"id": ""})
	rec := httptest.NewRecorder()

	h.Status(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChangesRequiresCustomerID(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/changes", nil)
	rec := httptest.NewRecorder()

	h.Changes(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := testHandler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
