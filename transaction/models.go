package transaction

import "time"

// Status is the display state of a cached payment row. Refund-derived
// states take precedence over the dispute flag, which takes precedence
// over the processor's native charge status.
type Status string

const (
	StatusSucceeded             Status = "succeeded"
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusCanceled              Status = "canceled"
	StatusProcessing            Status = "processing"
	StatusRequiresAction        Status = "requires_action"
	StatusRequiresCapture       Status = "requires_capture"
	StatusDisputed              Status = "disputed"
	StatusRefunded              Status = "refunded"
	StatusPartiallyRefunded     Status = "partially_refunded"

	// StatusRefundPending marks an admin-initiated refund that has been
	// sent to the processor but not yet confirmed.
	StatusRefundPending Status = "refund_pending"
)

// DeriveStatus computes the display status from ledger facts. A charge
// that is both disputed and refunded displays as refunded, never
// disputed.
func DeriveStatus(native Status, amount, refunded int64, disputed bool) Status {
	switch {
	case refunded > 0 && refunded >= amount:
		return StatusRefunded
	case refunded > 0:
		return StatusPartiallyRefunded
	case disputed:
		return StatusDisputed
	default:
		return native
	}
}

// Record mirrors the transactions table: one row per external charge,
// keyed by the processor-assigned payment id. UserName/UserEmail are
// denormalized fallback identity for charges whose customer matched no
// stored business.
type Record struct {
	ID               string
	StripePaymentID  string
	Amount           int64
	RefundAmount     int64
	Currency         string
	Status           Status
	Description      *string
	Metadata         map[string]string
	BusinessID       *string
	UserName         *string
	UserEmail        *string
	LastSyncedAt     *time.Time
	SyncedFromStripe bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Stats aggregates the local cache for the admin dashboard. Amounts are
// minor currency units.
type Stats struct {
	TotalTransactions int64
	TotalVolume       int64
	TotalRefunded     int64
	CompletedRevenue  int64
}
