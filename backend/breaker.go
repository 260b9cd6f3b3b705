package backend

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	breakerMaxRequests         = 1
	breakerInterval            = 60 * time.Second
	breakerTimeout             = 30 * time.Second
	breakerConsecutiveFailures = 5
)

// NewReadBreaker guards the outstanding and order-line fetches. Writes never pass through it.
func NewReadBreaker(name string, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			logger.WithFields(logrus.Fields{
				"module": "Backend",
				"name":   name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}
