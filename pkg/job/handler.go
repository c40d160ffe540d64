package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Handler processes jobs of one name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc handles a one-shot job with a typed payload.
type HandlerFunc[T any] func(ctx context.Context, payload T) error

// PeriodicFunc handles a scheduler-created run. Periodic jobs carry no payload.
type PeriodicFunc func(ctx context.Context) error

// NewHandler wraps a typed function as a Handler. The job name is derived
// from the payload type, matching what Enqueue uses for the same type.
func NewHandler[T any](fn HandlerFunc[T]) Handler {
	var payload T
	return &typedHandler[T]{name: qualifiedStructName(payload), fn: fn}
}

// NewPeriodicHandler wraps a payload-less function as a Handler under an
// explicit name.
func NewPeriodicHandler(name string, fn PeriodicFunc) Handler {
	return &periodicHandler{name: name, fn: fn}
}

type typedHandler[T any] struct {
	name string
	fn   HandlerFunc[T]
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return err
	}
	return h.fn(ctx, t)
}

type periodicHandler struct {
	name string
	fn   PeriodicFunc
}

func (h *periodicHandler) Name() string { return h.name }

func (h *periodicHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.fn(ctx)
}

func qualifiedStructName(v any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", v), "*")
}
