package graph

import "time"

// Observer receives one call per public DB operation.
type Observer interface {
	// ObserveOperation reports an operation name, its duration and its
	// error (nil on success).
	ObserveOperation(op string, d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, error) {}

// observe reports an operation that started at start. Use with defer and a
// named error result.
func (db *DB) observe(op string, start time.Time, err *error) {
	db.observer.ObserveOperation(op, time.Since(start), *err)
}
