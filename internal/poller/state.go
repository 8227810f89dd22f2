package poller

import (
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/livestats/internal/types"
)

// State of a filter session
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingManualTrigger State = "awaiting_manual_trigger"
	StateFetching              State = "fetching"
	StateAutoPolling           State = "auto_polling"
	StateSuspended             State = "suspended"
)

var (
	// ErrInvalidFilters is returned by Search for incomplete filters
	ErrInvalidFilters = errors.New("filters need at least one agent, one project and one date bound")
	// ErrNoFilters is returned by Refresh when nothing was ever searched and
	// the editable filters are incomplete
	ErrNoFilters = errors.New("no filters to refresh")
	// ErrClosed is returned by every action after Close
	ErrClosed = errors.New("controller closed")
)

// StateView is what observers and the API see of a controller
type StateView struct {
	State       State            `json:"state"`
	Revision    uint64           `json:"revision"`
	Generation  uint64           `json:"generation"`
	Dirty       bool             `json:"dirty"`
	Fetching    bool             `json:"fetching"`
	Filters     types.FilterSet  `json:"filters"`
	Applied     *types.FilterSet `json:"applied,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	Rows        []types.StatRow  `json:"rows"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
}

// Observer receives a view after every transition and fetch outcome.
// Views may arrive out of order; Revision orders them.
type Observer interface {
	StateChanged(view StateView)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(view StateView)

// StateChanged calls f(view)
func (f ObserverFunc) StateChanged(view StateView) { f(view) }

// Notifier receives the events produced by each snapshot diff
type Notifier interface {
	Enqueue(events ...types.NotificationEvent)
	Clear()
}

// fetchToken identifies the filter session a fetch was issued for
type fetchToken struct {
	generation  uint64
	epoch       uint64
	fingerprint string
}
