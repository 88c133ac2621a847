// Package fleet counts the instances sharing the write-behind partitions.
//
// The count feeds the coordinator's per-instance target, ceil(P / count).
// Counts are advisory: an over- or under-count only shifts how many leases an
// instance attempts; lease exclusivity keeps ownership correct.
package fleet

import (
	"context"
	"errors"
)

var ErrInvalidCount = errors.New("fleet: count must be positive")

// Static is a fixed fleet size from configuration.
type Static int

// NewStatic validates n.
func NewStatic(n int) (Static, error) {
	if n < 1 {
		return 0, ErrInvalidCount
	}
	return Static(n), nil
}

func (s Static) InstanceCount(context.Context) (int, error) { return int(s), nil }
