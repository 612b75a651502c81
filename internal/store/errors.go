package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrConnection means the store could not be reached or the connection broke mid-call.
	ErrConnection = errors.New("store connection error")
	// ErrCommand means the store rejected a command, script or transaction.
	ErrCommand = errors.New("store command error")
)

// Error describes a failed store operation. It matches ErrConnection or ErrCommand
// through errors.Is and exposes the driver error through errors.As.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify wraps a driver error with the operation that produced it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		netErr   net.Error
		storeErr *Error
	)

	if errors.As(err, &storeErr) {
		return err
	}

	kind := ErrCommand

	switch {
	case errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, redis.ErrClosed):
		kind = ErrConnection
	}

	return &Error{Op: op, Kind: kind, Err: err}
}
