package buffers

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufferpool/vbp"
)

// Resource tracks a handle that is created once and destroyed at most once. The destroy callback
// runs only for a handle that was actually created.
type Resource[T any] struct {
	value   T
	created bool
	destroy func(T) error
}

// NewResource creates an empty Resource that will hand its value to destroy when it is destroyed
func NewResource[T any](destroy func(T) error) *Resource[T] {
	return &Resource[T]{destroy: destroy}
}

// Create stores value in the Resource. It fails with vbp.ErrDuplicateCreation if a value is
// already held.
func (r *Resource[T]) Create(value T) error {
	if r.created {
		return errors.WithStack(vbp.ErrDuplicateCreation)
	}

	r.value = value
	r.created = true
	return nil
}

// IsValid reports whether the Resource currently holds a created value
func (r *Resource[T]) IsValid() bool {
	return r.created
}

// Get returns the held value. It fails with vbp.ErrUnknownBuffer if nothing has been created.
func (r *Resource[T]) Get() (T, error) {
	if !r.created {
		var zero T
		return zero, errors.Wrap(vbp.ErrUnknownBuffer, "resource has not been created")
	}

	return r.value, nil
}

// Destroy passes the held value to the destroy callback and resets the Resource so it can be
// created again. Destroying an empty Resource does nothing.
func (r *Resource[T]) Destroy() error {
	if !r.created {
		return nil
	}

	value := r.value

	var zero T
	r.value = zero
	r.created = false

	if r.destroy == nil {
		return nil
	}
	return r.destroy(value)
}
