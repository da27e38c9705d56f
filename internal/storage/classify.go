package storage

import (
	"context"
	"errors"
	"net"

	"ecoetl/internal/etlerr"
)

// Classify wraps a backend error in the sink half of the error taxonomy.
//
// Errors that already carry a sink kind are returned unchanged. rejected
// reports whether the backend refused the data itself (constraint, type or
// permission errors); everything else, including timeouts and network
// failures, is SinkUnavailable. A nil rejected treats every error as
// unavailable.
func Classify(op, table string, err error, rejected func(error) bool) error {
	if err == nil {
		return nil
	}
	switch etlerr.KindOf(err) {
	case etlerr.SinkRejected, etlerr.SinkUnavailable:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return etlerr.New(etlerr.SinkUnavailable, op, table, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return etlerr.New(etlerr.SinkUnavailable, op, table, err)
	}
	if rejected != nil && rejected(err) {
		return etlerr.New(etlerr.SinkRejected, op, table, err)
	}
	return etlerr.New(etlerr.SinkUnavailable, op, table, err)
}
