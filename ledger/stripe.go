package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// APIError is a non-2xx response from the processor's API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRateLimited reports whether err is the processor throttling us.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

// StripeClient talks to the Stripe REST API with form-encoded requests.
// It implements Client.
type StripeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewStripeClient builds a client authenticated with the given secret key.
func NewStripeClient(apiKey string) *StripeClient {
	return &StripeClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the client at a different API host, used by tests.
func (c *StripeClient) WithBaseURL(baseURL string) *StripeClient {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

var _ Client = (*StripeClient)(nil)

// Wire shapes. The processor returns expandable references (a payment
// intent may arrive as a bare id or a full object) and wraps nested
// lists in {data, has_more} envelopes, so decoding goes through these
// intermediates instead of the domain structs.

type listEnvelope struct {
	Data    []json.RawMessage `json:"data"`
	HasMore bool              `json:"has_more"`
}

type refundJSON struct {
	ID            string          `json:"id"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason"`
	PaymentIntent json.RawMessage `json:"payment_intent"`
	Created       int64           `json:"created"`
}

func (r refundJSON) toDomain() Refund {
	return Refund{
		ID:              r.ID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		Status:          r.Status,
		Reason:          r.Reason,
		PaymentIntentID: expandableID(r.PaymentIntent),
		Created:         r.Created,
	}
}

type chargeJSON struct {
	ID             string          `json:"id"`
	PaymentIntent  json.RawMessage `json:"payment_intent"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	Customer       json.RawMessage `json:"customer"`
	Description    string          `json:"description"`
	ReceiptEmail   string          `json:"receipt_email"`
	BillingDetails struct {
		Name string `json:"name"`
	} `json:"billing_details"`
	Disputed bool `json:"disputed"`
	Refunded bool `json:"refunded"`
	Refunds  struct {
		Data []refundJSON `json:"data"`
	} `json:"refunds"`
	Metadata map[string]string `json:"metadata"`
	Created  int64             `json:"created"`
}

func (cj chargeJSON) toDomain() Charge {
	refunds := make([]Refund, 0, len(cj.Refunds.Data))
	for _, r := range cj.Refunds.Data {
		refunds = append(refunds, r.toDomain())
	}
	return Charge{
		ID:              cj.ID,
		PaymentIntentID: expandableID(cj.PaymentIntent),
		Amount:          cj.Amount,
		Currency:        cj.Currency,
		Status:          cj.Status,
		Customer:        expandableID(cj.Customer),
		Description:     cj.Description,
		ReceiptEmail:    cj.ReceiptEmail,
		BillingName:     cj.BillingDetails.Name,
		Disputed:        cj.Disputed,
		Refunded:        cj.Refunded,
		Refunds:         refunds,
		Metadata:        cj.Metadata,
		Created:         cj.Created,
	}
}

type subscriptionJSON struct {
	ID       string          `json:"id"`
	Customer json.RawMessage `json:"customer"`
	Status   string          `json:"status"`
	Items    struct {
		Data []struct {
			ID   string `json:"id"`
			Plan struct {
				ID       string          `json:"id"`
				Nickname string          `json:"nickname"`
				Product  json.RawMessage `json:"product"`
			} `json:"plan"`
		} `json:"data"`
	} `json:"items"`
	Created int64 `json:"created"`
}

func (sj subscriptionJSON) toDomain() Subscription {
	items := make([]SubscriptionItem, 0, len(sj.Items.Data))
	for _, it := range sj.Items.Data {
		items = append(items, SubscriptionItem{
			ID: it.ID,
			Plan: Plan{
				ID:        it.Plan.ID,
				Nickname:  it.Plan.Nickname,
				ProductID: expandableID(it.Plan.Product),
			},
		})
	}
	return Subscription{
		ID:       sj.ID,
		Customer: expandableID(sj.Customer),
		Status:   sj.Status,
		Items:    items,
		Created:  sj.Created,
	}
}

// expandableID resolves an expandable API field to its id whether the
// processor returned a bare string or a full object.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func (c *StripeClient) ListCharges(ctx context.Context, params ChargeListParams) (ChargePage, error) {
	form := url.Values{}
	form.Set("limit", strconv.Itoa(pageLimit(params.Limit)))
	form.Add("expand[]", "data.payment_intent")
	form.Add("expand[]", "data.refunds.data")
	if params.CreatedSince > 0 {
		form.Set("created[gte]", strconv.FormatInt(params.CreatedSince, 10))
	}
	if params.StartingAfter != "" {
		form.Set("starting_after", params.StartingAfter)
	}

	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, "/charges", form, &envelope); err != nil {
		return ChargePage{}, err
	}

	page := ChargePage{HasMore: envelope.HasMore, Charges: make([]Charge, 0, len(envelope.Data))}
	for _, raw := range envelope.Data {
		var cj chargeJSON
		if err := json.Unmarshal(raw, &cj); err != nil {
			return ChargePage{}, fmt.Errorf("ledger: decode charge: %w", err)
		}
		page.Charges = append(page.Charges, cj.toDomain())
	}
	return page, nil
}

func (c *StripeClient) RetrievePaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	if id == "" {
		return PaymentIntent{}, fmt.Errorf("ledger: empty payment intent id")
	}
	var pj struct {
		ID           string            `json:"id"`
		Amount       int64             `json:"amount"`
		Currency     string            `json:"currency"`
		Status       string            `json:"status"`
		Customer     json.RawMessage   `json:"customer"`
		Description  string            `json:"description"`
		ReceiptEmail string            `json:"receipt_email"`
		Metadata     map[string]string `json:"metadata"`
	}
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+id, nil, &pj); err != nil {
		return PaymentIntent{}, err
	}
	return PaymentIntent{
		ID:           pj.ID,
		Amount:       pj.Amount,
		Currency:     pj.Currency,
		Status:       pj.Status,
		Customer:     expandableID(pj.Customer),
		Description:  pj.Description,
		ReceiptEmail: pj.ReceiptEmail,
		Metadata:     pj.Metadata,
	}, nil
}

func (c *StripeClient) ListRefunds(ctx context.Context, params RefundListParams) ([]Refund, error) {
	form := url.Values{}
	form.Set("limit", strconv.Itoa(pageLimit(params.Limit)))
	if params.PaymentIntent != "" {
		form.Set("payment_intent", params.PaymentIntent)
	}

	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, "/refunds", form, &envelope); err != nil {
		return nil, err
	}

	refunds := make([]Refund, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		var rj refundJSON
		if err := json.Unmarshal(raw, &rj); err != nil {
			return nil, fmt.Errorf("ledger: decode refund: %w", err)
		}
		refunds = append(refunds, rj.toDomain())
	}
	return refunds, nil
}

func (c *StripeClient) CreateRefund(ctx context.Context, params RefundParams) (Refund, error) {
	if params.PaymentIntent == "" {
		return Refund{}, fmt.Errorf("ledger: refund requires payment intent id")
	}
	form := url.Values{}
	form.Set("payment_intent", params.PaymentIntent)
	if params.Reason != "" {
		form.Set("reason", params.Reason)
	}

	var rj refundJSON
	if err := c.do(ctx, http.MethodPost, "/refunds", form, &rj); err != nil {
		return Refund{}, err
	}
	return rj.toDomain(), nil
}

func (c *StripeClient) ListSubscriptions(ctx context.Context, params SubscriptionListParams) (SubscriptionPage, error) {
	form := url.Values{}
	form.Set("limit", strconv.Itoa(pageLimit(params.Limit)))
	if params.Status != "" {
		form.Set("status", params.Status)
	}
	if params.Customer != "" {
		form.Set("customer", params.Customer)
	}
	if params.StartingAfter != "" {
		form.Set("starting_after", params.StartingAfter)
	}

	var envelope listEnvelope
	if err := c.do(ctx, http.MethodGet, "/subscriptions", form, &envelope); err != nil {
		return SubscriptionPage{}, err
	}

	page := SubscriptionPage{HasMore: envelope.HasMore, Subscriptions: make([]Subscription, 0, len(envelope.Data))}
	for _, raw := range envelope.Data {
		var sj subscriptionJSON
		if err := json.Unmarshal(raw, &sj); err != nil {
			return SubscriptionPage{}, fmt.Errorf("ledger: decode subscription: %w", err)
		}
		page.Subscriptions = append(page.Subscriptions, sj.toDomain())
	}
	return page, nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (Subscription, error) {
	if id == "" {
		return Subscription{}, fmt.Errorf("ledger: empty subscription id")
	}
	var sj subscriptionJSON
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+id, nil, &sj); err != nil {
		return Subscription{}, err
	}
	return sj.toDomain(), nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string) (Subscription, error) {
	if id == "" {
		return Subscription{}, fmt.Errorf("ledger: empty subscription id")
	}
	var sj subscriptionJSON
	if err := c.do(ctx, http.MethodDelete, "/subscriptions/"+id, nil, &sj); err != nil {
		return Subscription{}, err
	}
	return sj.toDomain(), nil
}

func (c *StripeClient) RetrieveProduct(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, fmt.Errorf("ledger: empty product id")
	}
	var p Product
	var pj struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/products/"+id, nil, &pj); err != nil {
		return Product{}, err
	}
	p.ID = pj.ID
	p.Name = pj.Name
	return p, nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(form) > 0 {
			endpoint += "?" + form.Encode()
		}
	} else if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ledger: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &errBody)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errBody.Error.Code,
			Message:    errBody.Error.Message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ledger: decode %s response: %w", path, err)
	}
	return nil
}
