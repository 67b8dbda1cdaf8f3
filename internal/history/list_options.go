package history

import (
	"Stepwise-Agent/internal/task"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions controls which records are returned when querying a repository.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []task.Status
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
}

// matches reports whether a record passes the status filter.
func (opts ListOptions) matches(rec Record) bool {
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, status := range opts.Statuses {
		if rec.Status == status {
			return true
		}
	}
	return false
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of records returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching records.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters records by the provided statuses.
func WithStatuses(statuses ...task.Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []task.Status) []task.Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[task.Status]struct{}, len(input))
	result := make([]task.Status, 0, len(input))
	for _, status := range input {
		if !task.IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
