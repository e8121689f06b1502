// Package modelpool owns the fixed set of GPU-resident generation models.
// It loads and unloads them against a device-memory budget and hands out
// checkout handles to the generation service.
package modelpool

import (
	"context"
	"errors"
	"sync"
)

// Class is the capability class of a generation model.
type Class string

const (
	ClassGeneral     Class = "general"
	ClassLongContext Class = "long_context"
	ClassMultimodal  Class = "multimodal"
)

// State is the lifecycle state of one model slot.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateUnloading State = "unloading"
	StateError     State = "error"
)

var (
	// ErrModelLoading is returned when a checkout waits longer than the
	// load timeout. Retryable: the load keeps running in the background.
	ErrModelLoading = errors.New("modelpool: model still loading")

	// ErrModelLoadFailed is returned after the load attempt and its
	// reduced-reservation retry both failed. Structural, not retryable.
	ErrModelLoadFailed = errors.New("modelpool: model load failed")

	// ErrNoModelForClass is returned when the pool has no model configured
	// for the requested capability class.
	ErrNoModelForClass = errors.New("modelpool: no model for capability class")

	// ErrUnknownModel is returned for operations on an unconfigured model id.
	ErrUnknownModel = errors.New("modelpool: unknown model")

	// ErrModelPinned is returned when evicting a pinned model.
	ErrModelPinned = errors.New("modelpool: model is pinned")

	// ErrModelInUse is returned when evicting a model with active checkouts.
	ErrModelInUse = errors.New("modelpool: model has active checkouts")
)

// Spec describes one model managed by the pool.
type Spec struct {
	ID               string
	Class            Class
	MemoryMB         int
	MaxContextTokens int
	Pinned           bool
}

// Loader is the model weights contract, implemented by the inference
// runtime client. memoryMB is the device-memory reservation for the load.
type Loader interface {
	Load(ctx context.Context, modelID string, memoryMB int) error
	Unload(ctx context.Context, modelID string) error
}

// Handle is an opaque reference to a loaded, Ready model. It is borrowed for
// the duration of one generation call and must be released through
// Manager.Release; releasing twice is safe.
type Handle struct {
	modelID string
	class   Class
	maxCtx  int
	slot    *slot
	once    sync.Once
}

// ModelID returns the model identifier the handle refers to.
func (h *Handle) ModelID() string { return h.modelID }

// Class returns the capability class of the model.
func (h *Handle) Class() Class { return h.class }

// MaxContextTokens returns the model's maximum context length.
func (h *Handle) MaxContextTokens() int { return h.maxCtx }
