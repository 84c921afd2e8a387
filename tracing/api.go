// Package tracing turns the hook events of an allocation engine into log
// lines and recorded rows.
package tracing

import (
	"github.com/sarchlab/memalloc/datarecording"
	"github.com/sarchlab/memalloc/sim"
)

// NamedHookable represent something both have a name and can be hooked.
type NamedHookable interface {
	sim.Named
	sim.Hookable
}

// CollectResults attaches a RecordingHook to the domain and returns it.
func CollectResults(
	domain NamedHookable,
	recorder datarecording.DataRecorder,
) *RecordingHook {
	h := NewRecordingHook(recorder)
	domain.AcceptHook(h)

	return h
}

// LogTo attaches a LogHook to the domain and returns it.
func LogTo(domain NamedHookable, hook *LogHook) *LogHook {
	domain.AcceptHook(hook)

	return hook
}
