package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/septivank/occupancy-billing-worker/internal/db"
)

// SumPrecision is the number of decimal places kept on a closed bill
const SumPrecision = 4

var secondsPerHour = decimal.NewFromInt(3600)

// ElapsedHours returns the fractional hours between start and end with second precision.
// A negative interval counts as zero.
func ElapsedHours(start, end time.Time) decimal.Decimal {
	seconds := end.Sub(start).Truncate(time.Second).Seconds()
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(seconds).Div(secondsPerHour)
}

// Sum computes the bill total from its rate snapshot: each hourly rate weighted
// by the hours elapsed between start and end.
func Sum(rates []db.BillRate, start, end time.Time) decimal.Decimal {
	hours := ElapsedHours(start, end)

	total := decimal.Zero
	for _, r := range rates {
		total = total.Add(r.Rate.Mul(hours))
	}

	return total.Round(SumPrecision)
}
