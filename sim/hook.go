// Package sim provides the instrumentation primitives shared by the
// memalloc components: hooks and ID generation.
package sim

import "sync"

// Named describes something that has a name.
type Named interface {
	Name() string
}

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   any
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	Named

	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides the hook bookkeeping for types that implement the
// Hookable interface. Hooks may be added while other goroutines invoke them.
type HookableBase struct {
	lock  sync.RWMutex
	hooks []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// AcceptHook registers a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.hooks = append(h.hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hooks)
}

// InvokeHook triggers the registered hooks in registration order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.lock.RLock()
	hooks := h.hooks
	h.lock.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
