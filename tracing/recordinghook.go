package tracing

import (
	"fmt"

	"github.com/sarchlab/memalloc/datarecording"
	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/sim"
)

// Tables the RecordingHook writes.
const (
	ResultTable = "alloc_result"
	LeafTable   = "alloc_leaf"
)

// ResultRecord is the row written for each finished request. Addresses are
// kept as hex text since SQLite integers are signed and a rejected or freed
// address may have bit 63 set.
type ResultRecord struct {
	ID             string
	Domain         string
	Kind           string
	PID            uint32
	VAddr          string
	PagesRequested int
	PagesInstalled int
	Permission     string
	Outcome        string
	Error          string
}

// LeafRecord is the row written for each installed leaf entry. Addresses,
// frame numbers and descriptors are hex text, as in ResultRecord.
type LeafRecord struct {
	Domain     string
	VAddr      string
	Frame      string
	Permission string
	Descriptor string
}

// RecordingHook stores request results and installed leaves in a
// DataRecorder.
type RecordingHook struct {
	recorder datarecording.DataRecorder
}

// NewRecordingHook creates a RecordingHook and the tables it writes to.
func NewRecordingHook(recorder datarecording.DataRecorder) *RecordingHook {
	recorder.CreateTable(ResultTable, ResultRecord{})
	recorder.CreateTable(LeafTable, LeafRecord{})

	return &RecordingHook{recorder: recorder}
}

// Func records the event.
func (h *RecordingHook) Func(ctx sim.HookCtx) {
	domain := ""
	if ctx.Domain != nil {
		domain = ctx.Domain.Name()
	}

	switch ctx.Pos {
	case memalloc.HookPosAllocEnd:
		rec := resultRecord(domain, "allocate", ctx.Item.(memalloc.Result))
		if err, ok := ctx.Detail.(error); ok && err != nil {
			rec.Error = err.Error()
		}

		h.recorder.InsertData(ResultTable, rec)
	case memalloc.HookPosRelease:
		rec := resultRecord(domain, "free", ctx.Item.(memalloc.Result))
		h.recorder.InsertData(ResultTable, rec)
	case memalloc.HookPosLeafInstalled:
		leaf := ctx.Item.(pagetable.Leaf)
		h.recorder.InsertData(LeafTable, LeafRecord{
			Domain:     domain,
			VAddr:      hex(leaf.VAddr),
			Frame:      hex(leaf.Frame),
			Permission: leaf.Permission.String(),
			Descriptor: fmt.Sprintf("0x%016x", leaf.Descriptor),
		})
	}
}

func resultRecord(domain, kind string, res memalloc.Result) ResultRecord {
	rec := ResultRecord{
		ID:             res.ID,
		Domain:         domain,
		Kind:           kind,
		PID:            uint32(res.PID),
		VAddr:          hex(res.VAddr),
		PagesRequested: res.PagesRequested,
		PagesInstalled: res.PagesInstalled,
		Outcome:        res.Outcome.String(),
	}

	if kind == "allocate" {
		rec.Permission = res.Permission.String()
	}

	return rec
}
