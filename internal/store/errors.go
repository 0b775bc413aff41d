package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrLockTimeout = errors.New("lock timeout")
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassLockTimeout
	ErrorClassDeadlock
	ErrorClassSerialization
)

// ClassifyError buckets Postgres failures by SQLSTATE.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassLockTimeout
		}
	}

	return ErrorClassPermanent
}

// IsRetryable reports whether the whole transaction can be replayed.
// Lock timeouts are surfaced to the caller instead, since waiting again on
// the same hot row rarely helps.
func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassDeadlock || class == ErrorClassSerialization
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return translate(err)
}

func translate(err error) error {
	if ClassifyError(err) == ErrorClassLockTimeout {
		return ErrLockTimeout
	}
	return err
}
