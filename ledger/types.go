package ledger

// Charge mirrors the processor's charge object, expanded with its refunds.
type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          int64
	Currency        string
	Status          string
	Customer        string
	Description     string
	ReceiptEmail    string
	BillingName     string
	Disputed        bool
	Refunded        bool
	Refunds         []Refund
	Metadata        map[string]string
	Created         int64
}

// Refund is a single refund attached to a charge or payment intent.
type Refund struct {
	ID              string
	Amount          int64
	Currency        string
	Status          string
	Reason          string
	PaymentIntentID string
	Created         int64
}

// PaymentIntent is the subset of the processor's payment intent the
// reconciliation engine and the admin action layer care about.
type PaymentIntent struct {
	ID           string
	Amount       int64
	Currency     string
	Status       string
	Customer     string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
}

// Plan carries the pricing identity hung off a subscription item.
type Plan struct {
	ID        string
	Nickname  string
	ProductID string
}

// SubscriptionItem links a subscription to one plan.
type SubscriptionItem struct {
	ID   string
	Plan Plan
}

// Subscription mirrors the processor's subscription object.
type Subscription struct {
	ID       string
	Customer string
	Status   string
	Items    []SubscriptionItem
	Created  int64
}

// Product resolves a plan's product id to a display name.
type Product struct {
	ID   string
	Name string
}
