/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acronis/go-schemakit"
)

// Status is the outcome of an import.
type Status int

// Import statuses.
const (
	StatusSuccess Status = iota
	StatusFileNotFound
	StatusErrorInFile
	StatusErrorReading
	StatusErrorInserting
	StatusNoData
)

var statusNames = [...]string{
	StatusSuccess:        "SUCCESS",
	StatusFileNotFound:   "FILE_NOT_FOUND",
	StatusErrorInFile:    "ERROR_IN_FILE",
	StatusErrorReading:   "ERROR_READING",
	StatusErrorInserting: "ERROR_INSERTING",
	StatusNoData:         "NO_DATA",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Sentinel errors of the codec.
var (
	ErrNoData          = errors.New("document contains no data")
	ErrUnknownTable    = errors.New("table does not exist in the database")
	ErrCleanIncomplete = errors.New("tables could not be emptied")
)

// ImportError describes a failed import.
type ImportError struct {
	Status Status
	// Table is the table being filled when the error occurred, if any.
	Table string
	// Constraint is the kind of the violated constraint if the driver reported one.
	Constraint schemakit.ConstraintKind
	Err        error
}

func (e *ImportError) Error() string {
	var sb strings.Builder
	sb.WriteString("import ")
	sb.WriteString(e.Status.String())
	if e.Table != "" {
		sb.WriteString(": table ")
		sb.WriteString(e.Table)
	}
	if e.Constraint != schemakit.ConstraintUnknown {
		sb.WriteString(": ")
		sb.WriteString(e.Constraint.String())
		sb.WriteString(" constraint violated")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// StatusOf returns the status carried by the error returned from an import.
// A nil error is StatusSuccess, an error without a status is StatusErrorInserting.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr.Status
	}
	return StatusErrorInserting
}
