package ledger

import "context"

// ChargeListParams selects a window of charges. StartingAfter is the
// opaque pagination cursor returned by the processor; callers pass the
// last item's id and never inspect it further.
type ChargeListParams struct {
	CreatedSince  int64
	StartingAfter string
	Limit         int
}

// ChargePage is one page of a charge listing.
type ChargePage struct {
	Charges []Charge
	HasMore bool
}

// RefundListParams filters refunds by payment intent.
type RefundListParams struct {
	PaymentIntent string
	Limit         int
}

// SubscriptionListParams selects subscriptions; Status "all" walks every
// lifecycle state.
type SubscriptionListParams struct {
	Status        string
	Customer      string
	StartingAfter string
	Limit         int
}

// SubscriptionPage is one page of a subscription listing.
type SubscriptionPage struct {
	Subscriptions []Subscription
	HasMore       bool
}

// RefundParams creates a refund against a payment intent.
type RefundParams struct {
	PaymentIntent string
	Reason        string
}

// Client is the contract the admin backend holds against the payment
// processor. It is injected into every consumer so tests can substitute
// scripted pages and errors.
type Client interface {
	ListCharges(ctx context.Context, params ChargeListParams) (ChargePage, error)
	RetrievePaymentIntent(ctx context.Context, id string) (PaymentIntent, error)
	ListRefunds(ctx context.Context, params RefundListParams) ([]Refund, error)
	CreateRefund(ctx context.Context, params RefundParams) (Refund, error)
	ListSubscriptions(ctx context.Context, params SubscriptionListParams) (SubscriptionPage, error)
	RetrieveSubscription(ctx context.Context, id string) (Subscription, error)
	CancelSubscription(ctx context.Context, id string) (Subscription, error)
	RetrieveProduct(ctx context.Context, id string) (Product, error)
}
