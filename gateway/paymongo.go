package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PayMongo implements Client against the PayMongo refunds API. Amounts are
// submitted in centavos.
type PayMongo struct {
	baseURL   string
	secretKey string
	client    *http.Client
	log       *zap.Logger
}

func NewPayMongo(baseURL, secretKey string, log *zap.Logger) *PayMongo {
	if log == nil {
		log = zap.NewNop()
	}
	return &PayMongo{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

type refundRequest struct {
	Data struct {
		Attributes struct {
			Amount    int64  `json:"amount"`
			PaymentID string `json:"payment_id"`
			Reason    string `json:"reason"`
		} `json:"attributes"`
	} `json:"data"`
}

type refundResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
	Errors []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CreateRefund issues POST /refunds. Gateway rejections come back as
// *RefundError; transport faults are wrapped as-is so callers can tell the
// two apart, though the engine treats both as recoverable.
func (p *PayMongo) CreateRefund(ctx context.Context, paymentRef string, amount decimal.Decimal) (RefundResult, error) {
	if paymentRef == "" {
		return RefundResult{}, fmt.Errorf("gateway: empty payment reference")
	}

	var reqBody refundRequest
	reqBody.Data.Attributes.Amount = amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	reqBody.Data.Attributes.PaymentID = paymentRef
	reqBody.Data.Attributes.Reason = "requested_by_customer"

	body, err := json.Marshal(reqBody)
	if err != nil {
		return RefundResult{}, fmt.Errorf("gateway: marshal refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return RefundResult{}, fmt.Errorf("gateway: build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.secretKey, "")

	resp, err := p.client.Do(req)
	if err != nil {
		return RefundResult{}, fmt.Errorf("gateway: post refund: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return RefundResult{}, fmt.Errorf("gateway: read refund response: %w", err)
	}

	var parsed refundResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return RefundResult{}, fmt.Errorf("gateway: decode refund response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("http %d", resp.StatusCode)
		if len(parsed.Errors) > 0 {
			reason = fmt.Sprintf("%s: %s", parsed.Errors[0].Code, parsed.Errors[0].Detail)
		}
		p.log.Warn("paymongo refund declined",
			zap.String("payment_ref", paymentRef),
			zap.String("reason", reason),
		)
		return RefundResult{}, &RefundError{PaymentRef: paymentRef, Reason: reason}
	}

	return RefundResult{
		RefundID: parsed.Data.ID,
		Status:   parsed.Data.Attributes.Status,
	}, nil
}
