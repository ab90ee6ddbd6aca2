// Package revocation keeps the JTIs of access tokens that were logged out
// before they expired.
package revocation

import (
	"fmt"
	"time"

	"gatehouse/pkg/platform/sentinel"
)

// Clock returns the current time.
type Clock func() time.Time

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
