// Package errors provides contextual error construction for LiftMate.
//
// Errors are created with a small builder that attaches the originating
// component, a category and key/value context:
//
//	return errors.New(err).
//		Component("offline").
//		Category(errors.CategoryNetwork).
//		Context("url", key).
//		Build()
//
// The standard library helpers Is, As, Join and Unwrap are re-exported so
// callers only need a single import.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Category classifies an error for logging, metrics and HTTP mapping.
type Category string

// Error categories.
const (
	CategoryGeneric    Category = "generic"
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryStorage    Category = "storage"
	CategoryConfig     Category = "configuration"
	CategoryState      Category = "state"
	CategoryNotFound   Category = "not-found"
)

// EnhancedError is an error carrying component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

// Error implements error.
func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped cause.
func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string {
	return e.component
}

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category {
	return e.category
}

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// Detail renders the error with its component, category and sorted context,
// suitable for log lines and error reports.
func (e *EnhancedError) Detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", e.component, e.category, e.Error())
	for _, k := range slices.Sorted(maps.Keys(e.context)) {
		fmt.Fprintf(&b, " %s=%v", k, e.context[k])
	}
	return b.String()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts building an enhanced error wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: &EnhancedError{
		Err:      err,
		category: CategoryGeneric,
		context:  make(map[string]any),
	}}
}

// Newf starts building an enhanced error from a formatted message.
// The %w verb is honoured.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.err.component = component
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.err.category = category
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build returns the assembled error.
func (b *ErrorBuilder) Build() error {
	if b.err.component == "" {
		b.err.component = "unknown"
	}
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain,
// or CategoryGeneric when there is none.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// IsCategory reports whether err's chain carries the given category.
func IsCategory(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// NewStd creates a plain error, equivalent to the standard library errors.New.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error wrapping the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }
