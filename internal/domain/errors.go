package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// NotFoundError reports a missing tenant, program, or rule.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidInputError reports a validation failure on a specific field.
// Validation is all-or-nothing: the first failing check aborts the operation.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// ConflictError reports an exclusivity collision within a conflict group.
// RuleIDs lists the already-active colliding rules.
type ConflictError struct {
	ConflictGroup string
	RuleIDs       []int64
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.RuleIDs))
	for i, id := range e.RuleIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("exclusive conflict in group %s with rules [%s]", e.ConflictGroup, strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
