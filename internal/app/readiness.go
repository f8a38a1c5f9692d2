// Package app wires application components and startup helpers.
package app

import (
	"context"

	"github.com/docpipe/docpipe/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerPinger is the minimal interface for a broker binding capable of a
// lightweight connectivity check.
type BrokerPinger interface {
	Ping(ctx domain.Context) error
}

// BuildReadinessChecks returns a broker check and a db check suitable for
// Server.ReadyzHandler. Either dependency may be nil, in which case its
// check is a permanent pass (the handler skips nil checks entirely).
func BuildReadinessChecks(pool Pinger, broker BrokerPinger) (
	dbCheck func(ctx context.Context) error,
	brokerCheck func(ctx context.Context) error,
) {
	if pool != nil {
		dbCheck = func(ctx context.Context) error { return pool.Ping(ctx) }
	}
	if broker != nil {
		brokerCheck = func(ctx context.Context) error { return broker.Ping(ctx) }
	}
	return dbCheck, brokerCheck
}
