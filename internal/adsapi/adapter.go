// Package adsapi is the Ads API Adapter (C7): the only component allowed to
// perform outbound mutations against the external ad platform. It translates
// a typed Action into one platform request, either executing it (LIVE) or
// just returning what would have been sent (DRY_RUN).
package adsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/solari-labs/adctl/internal/core/resilience"
	"github.com/solari-labs/adctl/internal/domain"
)

// Mode selects whether Execute transmits the mutation or only serializes it.
type Mode string

const (
	ModeDryRun Mode = "DRY_RUN"
	ModeLive   Mode = "LIVE"
)

// Request is one platform mutation to perform.
type Request struct {
	Identity domain.EntityID
	Action   domain.Action
}

// Adapter is an outbound HTTP client to the external ads platform, rate
// limited on the outbound side and classifying every failure into a
// domain.AdapterTransient or domain.AdapterPermanent error.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *adapterMetrics
}

func New(baseURL string, httpClient *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Adapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(10), 10)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		baseURL:    baseURL,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		metrics:    newAdapterMetrics(),
	}
}

// mutationPayload is the wire shape sent to the platform. Only the fields
// relevant to the action kind are populated.
type mutationPayload struct {
	CustomerID  string  `json:"customer_id"`
	EntityKind  string  `json:"entity_kind"`
	EntityID    string  `json:"entity_id"`
	ActionKind  string  `json:"action_kind"`
	BidMicros   *int64  `json:"bid_micros,omitempty"`
	BudgetMicros *int64 `json:"budget_micros,omitempty"`
	Status      string  `json:"status,omitempty"`
	KeywordText string  `json:"keyword_text,omitempty"`
	MatchType   string  `json:"match_type,omitempty"`
	ProductID   string  `json:"product_id,omitempty"`
}

func buildPayload(req Request) (mutationPayload, error) {
	p := mutationPayload{
		CustomerID: req.Identity.CustomerID,
		EntityKind: string(req.Identity.Kind),
		EntityID:   req.Identity.ID,
		ActionKind: string(domain.KindOf(req.Action)),
	}
	switch a := req.Action.(type) {
	case domain.AdjustBid:
		p.BidMicros = &a.NewMicros
	case domain.AdjustBudget:
		p.BudgetMicros = &a.NewMicros
	case domain.SetStatus:
		p.Status = a.NewStatus
	case domain.AddNegative:
		p.KeywordText = a.KeywordText
		p.MatchType = string(a.MatchType)
	case domain.ExcludeProduct:
		p.ProductID = a.ProductID
	default:
		return mutationPayload{}, &domain.ValidationFailed{Field: "action_kind"}
	}
	return p, nil
}

// Execute translates req into a platform mutation. In DRY_RUN mode it builds
// and serializes the payload without transmitting it and returns that
// serialization as the ack. In LIVE mode it transmits the payload and
// returns the platform's acknowledgement, or a *domain.AdapterTransient /
// *domain.AdapterPermanent error.
func (a *Adapter) Execute(ctx context.Context, mode Mode, req Request) (string, error) {
	start := time.Now()
	payload, err := buildPayload(req)
	if err != nil {
		a.metrics.calls.WithLabelValues(string(mode), "invalid").Inc()
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		a.metrics.calls.WithLabelValues(string(mode), "invalid").Inc()
		return "", &domain.ValidationFailed{Field: "action_payload"}
	}

	if mode == ModeDryRun {
		a.metrics.calls.WithLabelValues(string(mode), "ok").Inc()
		a.metrics.duration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
		return string(body), nil
	}

	ack, err := a.transmit(ctx, body)
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	a.metrics.calls.WithLabelValues(string(mode), outcome).Inc()
	a.metrics.duration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	return ack, err
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case *domain.AdapterTransient:
		return "transient"
	case *domain.AdapterPermanent:
		return "permanent"
	default:
		return "error"
	}
}

var defaultErrorChecker = &resilience.DefaultErrorChecker{}

func (a *Adapter) transmit(ctx context.Context, body []byte) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/mutate", bytes.NewReader(body))
	if err != nil {
		return "", &domain.AdapterPermanent{Code: "malformed_request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if defaultErrorChecker.IsRetryable(err) {
			return "", &domain.AdapterTransient{RetryAfter: time.Second}
		}
		return "", &domain.AdapterPermanent{Code: "network_error"}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var ack struct {
			PlatformAck string `json:"platform_ack"`
		}
		if err := json.Unmarshal(respBody, &ack); err != nil {
			return "", &domain.AdapterPermanent{Code: "malformed_response"}
		}
		return ack.PlatformAck, nil

	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return "", &domain.AdapterTransient{RetryAfter: retryAfterFrom(resp.Header.Get("Retry-After"))}

	default:
		return "", &domain.AdapterPermanent{Code: fmt.Sprintf("http_%d", resp.StatusCode)}
	}
}

func retryAfterFrom(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}
