package postgres

import (
	"database/sql"
	"time"

	"github.com/sony/gobreaker"
)

// breaker wraps a repo's write calls so a flapping Postgres instance trips
// open instead of blocking every governance transition behind it. Grounded
// on infra/breakers.Breaker's settings (consecutive-failure and
// failure-ratio trip conditions); this module scopes one breaker per repo
// rather than per provider, since each repo owns a single write surface.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string) *breaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// execResult wraps an ExecContext call, preserving its sql.Result for
// callers that need RowsAffected.
func (b *breaker) execResult(fn func() (sql.Result, error)) (sql.Result, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if res == nil {
		return nil, err
	}
	return res.(sql.Result), err
}
