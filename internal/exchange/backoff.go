package exchange

import (
	"time"

	"github.com/digitalinkpact/cryptopiggy/pkg/exchanges/common"
)

// Policy bounds retries of one exchange call.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultPolicy is 3 attempts with a 500ms base backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: 500 * time.Millisecond}
}

// Delay returns how long to wait after a failed attempt (1-based) of the given
// class, and whether another attempt is allowed at all. Transient failures back
// off linearly, rate limits back off at twice that, auth and unknown failures
// are final.
func Delay(class common.ErrorClass, base time.Duration, attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	switch class {
	case common.ClassTransient:
		return base * time.Duration(attempt), true
	case common.ClassRateLimit:
		return base * time.Duration(attempt) * 2, true
	default:
		return 0, false
	}
}
