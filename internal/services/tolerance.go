// internal/services/tolerance.go
package services

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Network fees cause small systematic shortfalls on incoming payments
// (historically around 0.6-1%), so a zero-tolerance comparison reports
// real payments as missing. The clamp bounds how far configuration can
// push the tolerance in either direction: too low recreates the false
// non-payment problem, too high invites deliberate underpayment.
const (
	DefaultTolerance = 0.005  // 0.5% of the expected amount
	minTolerance     = 0.0001 // 0.01%
	maxTolerance     = 0.01   // 1%
)

// clampTolerance bounds a caller-supplied tolerance to the accepted
// range. Out-of-range values are clamped and logged, not rejected.
func clampTolerance(tolerance float64) float64 {
	if tolerance <= 0 {
		return DefaultTolerance
	}
	if tolerance < minTolerance {
		logrus.WithField("tolerance", tolerance).Warn("Payment tolerance below minimum, clamping")
		return minTolerance
	}
	if tolerance > maxTolerance {
		logrus.WithField("tolerance", tolerance).Warn("Payment tolerance above maximum, clamping")
		return maxTolerance
	}
	return tolerance
}

// AmountMatches reports whether an observed on-chain amount satisfies an
// expected amount within the (clamped) tolerance fraction. The absolute
// difference is compared, so overpayment always matches.
func AmountMatches(observed, expected, tolerance float64) bool {
	if expected <= 0 {
		return false
	}
	if observed >= expected {
		return true
	}

	allowed := expected * clampTolerance(tolerance)
	return math.Abs(observed-expected) <= allowed
}
