package transaction

import "testing"

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name     string
		native   Status
		amount   int64
		refunded int64
		disputed bool
		want     Status
	}{
		{"no refund keeps native", StatusSucceeded, 1000, 0, false, StatusSucceeded},
		{"minimal partial refund", StatusSucceeded, 1000, 1, false, StatusPartiallyRefunded},
		{"one cent short of full", StatusSucceeded, 1000, 999, false, StatusPartiallyRefunded},
		{"exact full refund", StatusSucceeded, 1000, 1000, false, StatusRefunded},
		{"over-refund still refunded", StatusSucceeded, 1000, 1500, false, StatusRefunded},
		{"dispute without refund", StatusSucceeded, 1000, 0, true, StatusDisputed},
		{"full refund beats dispute", StatusSucceeded, 1000, 1000, true, StatusRefunded},
		{"partial refund beats dispute", StatusSucceeded, 1000, 400, true, StatusPartiallyRefunded},
		{"processing passes through", StatusProcessing, 500, 0, false, StatusProcessing},
		{"failed charge keeps native", StatusRequiresPaymentMethod, 500, 0, false, StatusRequiresPaymentMethod},
		{"zero-amount charge fully refunded by any refund", StatusSucceeded, 0, 1, false, StatusRefunded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(tc.native, tc.amount, tc.refunded, tc.disputed)
			if got != tc.want {
				t.Errorf("DeriveStatus(%s, %d, %d, %t) = %s, want %s",
					tc.native, tc.amount, tc.refunded, tc.disputed, got, tc.want)
			}
		})
	}
}
