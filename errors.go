/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package schemakit

import (
	"database/sql/driver"
	"reflect"
	"sync"
)

// ConstraintKind describes which kind of integrity constraint was violated by a failed statement.
type ConstraintKind int

// Constraint kinds. ConstraintUnknown is used when the driver does not expose enough details
// or the error is not a constraint violation at all.
const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintNotNull
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
)

// String returns the human-readable string representation.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintNotNull:
		return "not-null"
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign-key"
	case ConstraintCheck:
		return "check"
	}
	return "unknown"
}

// ConstraintClassifier inspects a driver error and reports the violated constraint kind.
type ConstraintClassifier func(err error) ConstraintKind

var (
	registryMu            sync.RWMutex
	retryableFuncs        = map[reflect.Type][]IsRetryable{}
	constraintClassifiers = map[reflect.Type]ConstraintClassifier{}
)

// RegisterIsRetryableFunc registers a function that detects transient errors for the passed driver.
// Several functions may be registered for the same driver; an error is retryable if any of them says so.
// Driver packages (sqlite, mysql, postgres, pgx, mssql) call it in init().
func RegisterIsRetryableFunc(d driver.Driver, fn IsRetryable) {
	registryMu.Lock()
	defer registryMu.Unlock()
	t := reflect.TypeOf(d)
	retryableFuncs[t] = append(retryableFuncs[t], fn)
}

// UnregisterAllIsRetryableFuncs removes all registered retryable detectors for the passed driver.
func UnregisterAllIsRetryableFuncs(d driver.Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(retryableFuncs, reflect.TypeOf(d))
}

// GetIsRetryable returns a function that combines all detectors registered for the passed driver.
// It never returns nil.
func GetIsRetryable(d driver.Driver) IsRetryable {
	registryMu.RLock()
	fns := append([]IsRetryable(nil), retryableFuncs[reflect.TypeOf(d)]...)
	registryMu.RUnlock()
	return func(err error) bool {
		if err == nil {
			return false
		}
		for _, fn := range fns {
			if fn(err) {
				return true
			}
		}
		return false
	}
}

// RegisterConstraintClassifier registers a constraint classifier for the passed driver.
// A later registration replaces the previous one.
func RegisterConstraintClassifier(d driver.Driver, fn ConstraintClassifier) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constraintClassifiers[reflect.TypeOf(d)] = fn
}

// ClassifyConstraint returns the kind of the constraint violated by err for the passed driver.
func ClassifyConstraint(d driver.Driver, err error) ConstraintKind {
	if err == nil {
		return ConstraintUnknown
	}
	registryMu.RLock()
	fn := constraintClassifiers[reflect.TypeOf(d)]
	registryMu.RUnlock()
	if fn == nil {
		return ConstraintUnknown
	}
	return fn(err)
}
