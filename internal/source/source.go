package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
)

// Source is the read-only upstream statistics store
type Source interface {
	// FetchStats returns aggregate outcome counts for the filter window
	FetchStats(ctx context.Context, filters types.FilterSet) ([]types.StatRow, error)
	// FetchCallRecords returns the raw call records behind the filter window
	FetchCallRecords(ctx context.Context, filters types.FilterSet) ([]types.RawCallRecord, error)
	// FetchCatalog lists known agents and projects
	FetchCatalog(ctx context.Context) (types.Catalog, error)
}

// ErrTimeout is matched by errors.Is for every fetch that ran out of time
var ErrTimeout = errors.New("upstream request timed out")

// FetchError describes a failed upstream call
type FetchError struct {
	Op     string // "stats", "calls", "catalog"
	Status int    // HTTP status, 0 when the request never completed
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes timeouts match ErrTimeout
func (e *FetchError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout()
}

// Timeout reports whether the call failed because its deadline passed
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) || e.Status == http.StatusGatewayTimeout {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// Wrap returns err as a *FetchError for op, leaving nil and existing
// FetchErrors untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Op: op, Err: err}
}

// IsTimeout reports whether err is a fetch timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
