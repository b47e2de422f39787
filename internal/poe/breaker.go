package poe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/poeproxy/poe-openai-proxy/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const breakerInterval = 60 * time.Second

// newBreaker guards stream initiation. Only transport failures and upstream 5xx
// responses count as failures; client errors and cancellations do not.
func newBreaker(name string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = config.DefaultBreakerFailures
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultBreakerTimeout * time.Second
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
		IsSuccessful: breakerSuccess,
	})
}

func breakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode() < http.StatusInternalServerError
	}
	return false
}
