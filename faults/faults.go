// Package faults defines the error categories seine reports. Every failure is
// fatal for the run; the category tells the operator where to look.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks errors in the requested scheme or flags,
	// detected before any I/O side effect.
	ErrConfiguration = errors.New("configuration error")
	// ErrInput marks errors in the supplied boundary data.
	ErrInput = errors.New("input error")
	// ErrConsistency marks produced output that disagrees with the
	// pre-validated expectation.
	ErrConsistency = errors.New("consistency error")
)

func Configurationf(format string, a ...interface{}) error {
	return categorized(ErrConfiguration, format, a...)
}

func Inputf(format string, a ...interface{}) error {
	return categorized(ErrInput, format, a...)
}

func Consistencyf(format string, a ...interface{}) error {
	return categorized(ErrConsistency, format, a...)
}

func categorized(category error, format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", category, fmt.Sprintf(format, a...))
}
