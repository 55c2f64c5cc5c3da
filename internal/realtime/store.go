// Package realtime implements the shared real-time store the live session
// protocol runs on: a JSON tree addressed by "/"-separated paths, with
// field-level merges and change subscriptions.
package realtime

import (
	"context"
	"encoding/json"
)

// Store is the primitive set the live session protocol relies on.
//
// Update merges fields into the object at path; a key may itself be a
// relative sub-path ("responses/q1/isCorrect") and a nil value deletes the
// field. It never replaces sibling fields, which is what lets the teacher and
// every student write the same document without transactions.
type Store interface {
	Get(ctx context.Context, path string) (any, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	// Touch is Update for a value that must already exist. When nothing is
	// stored at path it writes nothing and returns ErrNotFound.
	Touch(ctx context.Context, path string, fields map[string]any) error
	// Transact runs fn against the current value at path and atomically
	// stores its result. An error from fn aborts without writing.
	Transact(ctx context.Context, path string, fn func(current any) (any, error)) error
	// Subscribe delivers the current value at path, then the new value after
	// every change touching path. Deliveries to one subscriber are sequential
	// and in emission order. The returned func cancels the subscription.
	Subscribe(ctx context.Context, path string, onChange func(value any)) (func(), error)
}

// Decode converts a generic JSON tree returned by Get/Subscribe into dst.
func Decode(value any, dst any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
