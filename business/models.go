package business

import "time"

// Record mirrors the businesses table. StripeSubscriptionID is cleared
// to NULL when the subscription is canceled; it is the join key back to
// the ledger.
type Record struct {
	ID                   string
	Name                 string
	UserID               *string
	StripeCustomerID     *string
	StripeSubscriptionID *string
	SubscriptionPlan     *string
	SubscriptionStatus   *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SubscriptionFields is the slice of a business the subscription
// reconciler owns. Nil pointers write SQL NULLs.
type SubscriptionFields struct {
	StripeSubscriptionID *string
	SubscriptionStatus   *string
	SubscriptionPlan     *string
}
