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
)

// NOWPayments is a Client backed by the NOWPayments HTTP API.
type NOWPayments struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewNOWPayments creates a NOWPayments client. baseURL is the API root
// without a trailing slash, e.g. "https://api.nowpayments.io/v1".
func NewNOWPayments(baseURL, apiKey string) *NOWPayments {
	return &NOWPayments{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type paymentRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description,omitempty"`
	PayAddress       string      `json:"pay_address,omitempty"`
}

// flexID decodes gateway identifiers that arrive as either a JSON number
// or a JSON string, depending on the endpoint.
type flexID string

func (f flexID) String() string { return string(f) }

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type paymentResponse struct {
	PaymentID  flexID `json:"payment_id"`
	PayAddress string `json:"pay_address"`
}

type refundRequest struct {
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason,omitempty"`
}

type refundResponse struct {
	RefundID flexID `json:"refund_id"`
}

func (n *NOWPayments) CreatePayment(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (*Payment, error) {
	req := paymentRequest{
		PriceAmount:      json.Number(amount.String()),
		PriceCurrency:    currency,
		OrderID:          orderRef,
		OrderDescription: fmt.Sprintf("Escrow deposit %s", orderRef),
	}

	var resp paymentResponse
	if err := n.post(ctx, "/payment", req, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response missing payment_id"}
	}
	return &Payment{ID: resp.PaymentID.String(), DepositAddress: resp.PayAddress}, nil
}

func (n *NOWPayments) CreatePayout(ctx context.Context, amount decimal.Decimal, currency, orderRef, payoutAddress string) (*Payment, error) {
	req := paymentRequest{
		PriceAmount:      json.Number(amount.String()),
		PriceCurrency:    currency,
		OrderID:          orderRef,
		OrderDescription: fmt.Sprintf("Escrow release %s", orderRef),
		PayAddress:       payoutAddress,
	}

	var resp paymentResponse
	if err := n.post(ctx, "/payment", req, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response missing payment_id"}
	}
	return &Payment{ID: resp.PaymentID.String()}, nil
}

func (n *NOWPayments) CreateRefund(ctx context.Context, paymentID, reason string) (*Refund, error) {
	req := refundRequest{PaymentID: paymentID, Reason: reason}

	var resp refundResponse
	if err := n.post(ctx, "/refund", req, &resp); err != nil {
		return nil, err
	}
	if resp.RefundID == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "response missing refund_id"}
	}
	return &Refund{ID: resp.RefundID.String()}, nil
}

// post sends a JSON request and decodes the response into out.
// 5xx and transport failures come back as *TransientError, any other
// non-2xx status as *APIError.
func (n *NOWPayments) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: truncate(data, 200)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("undecodable response: %v", err)}
	}
	return nil
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
