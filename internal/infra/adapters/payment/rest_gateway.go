// File: internal/infra/adapters/payment/rest_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"membership-engine/internal/domain/ports/adapter"
	"membership-engine/internal/infra/metrics"
)

var _ adapter.DeductionGateway = (*RestGateway)(nil)

// RestGateway implements adapter.DeductionGateway against a provider's
// mandate-deduction REST API: POST /deduct/apply to charge, POST /deduct/query
// to reconcile. Provider failure codes pass through in DeductResult.ErrorCode
// untouched so the retry policy can classify them.
type RestGateway struct {
	baseURL     string
	merchantKey string
	client      *http.Client
}

func NewRestGateway(baseURL, merchantKey string) (*RestGateway, error) {
	if merchantKey == "" {
		return nil, errors.New("merchant key empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &RestGateway{
		baseURL:     baseURL,
		merchantKey: merchantKey,
		client:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *RestGateway) Name() string { return "rest" }

type deductResponse struct {
	Status        string `json:"status"` // PAID | PENDING | FAILED
	TransactionID string `json:"transaction_id"`
	ErrorCode     string `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

func (g *RestGateway) ApplyDeduct(ctx context.Context, contractRef string, amount decimal.Decimal) (adapter.DeductResult, error) {
	payload := map[string]any{
		"merchant_key": g.merchantKey,
		"contract_ref": contractRef,
		"amount":       amount.String(),
	}
	start := time.Now()
	res, err := g.post(ctx, "/deduct/apply", payload)
	outcome := "error"
	if err == nil {
		outcome = string(res.Status)
	}
	metrics.ObserveDeduction(g.Name(), outcome, time.Since(start).Milliseconds())
	return res, err
}

func (g *RestGateway) Query(ctx context.Context, attemptRef string) (adapter.DeductResult, error) {
	payload := map[string]any{
		"merchant_key": g.merchantKey,
		"attempt_ref":  attemptRef,
	}
	return g.post(ctx, "/deduct/query", payload)
}

func (g *RestGateway) post(ctx context.Context, path string, payload map[string]any) (adapter.DeductResult, error) {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return adapter.DeductResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return adapter.DeductResult{}, fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return adapter.DeductResult{}, fmt.Errorf("gateway %s: unexpected status %d", path, resp.StatusCode)
	}

	var dr deductResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return adapter.DeductResult{}, fmt.Errorf("gateway %s: decode: %w", path, err)
	}

	res := adapter.DeductResult{TransactionID: dr.TransactionID, ErrorCode: dr.ErrorCode}
	switch dr.Status {
	case "PAID":
		res.Status = adapter.DeductStatusPaid
	case "PENDING":
		res.Status = adapter.DeductStatusPending
	default:
		res.Status = adapter.DeductStatusFailed
	}
	return res, nil
}
