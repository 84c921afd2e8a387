package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/sim"
)

// LogHook writes engine events to a structured logger. Request results are
// logged at info level, table and leaf updates at debug level.
type LogHook struct {
	sim.LogHookBase
}

// NewLogHook creates a LogHook that writes to logger.
func NewLogHook(logger *slog.Logger) *LogHook {
	return &LogHook{LogHookBase: sim.NewLogHookBase(logger)}
}

// Func logs the event.
func (h *LogHook) Func(ctx sim.HookCtx) {
	domain := ""
	if ctx.Domain != nil {
		domain = ctx.Domain.Name()
	}

	switch ctx.Pos {
	case memalloc.HookPosAllocStart:
		req := ctx.Item.(memalloc.AllocRequest)
		h.Debug("allocate requested",
			"domain", domain,
			"vaddr", hex(req.VAddr),
			"pages", req.Pages,
			"write", req.Write)
	case memalloc.HookPosAllocEnd:
		h.logResult(domain, ctx.Item.(memalloc.Result), ctx.Detail)
	case memalloc.HookPosTableCreated:
		n := ctx.Item.(*pagetable.Node)
		h.Debug("table created",
			"domain", domain,
			"table", n.Level().String(),
			"node", n.ID(),
			"frame", n.Frame().Number)
	case memalloc.HookPosLeafInstalled:
		leaf := ctx.Item.(pagetable.Leaf)
		h.Debug("leaf installed",
			"domain", domain,
			"vaddr", hex(leaf.VAddr),
			"frame", leaf.Frame,
			"descriptor", hex(leaf.Descriptor))
	case memalloc.HookPosRelease:
		res := ctx.Item.(memalloc.Result)
		h.Info("free ignored",
			"domain", domain,
			"id", res.ID,
			"pid", res.PID,
			"vaddr", hex(res.VAddr))
	}
}

func (h *LogHook) logResult(domain string, res memalloc.Result, detail any) {
	if res.Outcome == memalloc.OutcomeAllocated {
		h.Info(fmt.Sprintf("allocated %d pages at %s with %s",
			res.PagesInstalled, hex(res.VAddr), res.Permission),
			"domain", domain,
			"id", res.ID,
			"pid", res.PID)

		return
	}

	attrs := []any{
		"domain", domain,
		"id", res.ID,
		"pid", res.PID,
		"vaddr", hex(res.VAddr),
		"pages", res.PagesRequested,
		"installed", res.PagesInstalled,
		"outcome", res.Outcome.String(),
	}

	if err, ok := detail.(error); ok && err != nil {
		attrs = append(attrs, "error", err.Error())
	}

	h.Log(context.Background(), slog.LevelWarn, "allocation failed", attrs...)
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
