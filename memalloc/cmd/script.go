package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/memalloc/mem/vm/memdev"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/monitoring"
)

// Operations a script line can hold.
const (
	opAlloc  = "alloc"
	opFree   = "free"
	opProbe  = "probe"
	opLookup = "lookup"
	opStats  = "stats"
	opSpace  = "space"
)

var errSyntax = errors.New("syntax error")

// An op is one parsed script line.
type op struct {
	line  int
	kind  string
	vAddr uint64
	pages int
	write bool
	pid   pagetable.PID
}

// isRequest tells if the op goes through the device.
func (o op) isRequest() bool {
	return o.kind == opAlloc || o.kind == opFree
}

// parseScript reads one op per line. Blank lines and text after '#' are
// ignored.
func parseScript(r io.Reader) ([]op, error) {
	var ops []op

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}

		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		o, err := parseOp(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		o.line = lineNo
		ops = append(ops, o)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

func parseOp(fields []string) (op, error) {
	o := op{kind: strings.ToLower(fields[0])}
	args := fields[1:]

	var err error

	switch o.kind {
	case opAlloc:
		if len(args) < 2 || len(args) > 3 {
			return o, fmt.Errorf("%w: usage: alloc <vaddr> <pages> [rw|ro]", errSyntax)
		}

		o.vAddr, o.pages, err = parseRange(args[0], args[1])
		if err == nil && len(args) == 3 {
			o.write, err = parsePermission(args[2])
		}
	case opProbe:
		if len(args) != 2 {
			return o, fmt.Errorf("%w: usage: probe <vaddr> <pages>", errSyntax)
		}

		o.vAddr, o.pages, err = parseRange(args[0], args[1])
	case opFree, opLookup:
		if len(args) != 1 {
			return o, fmt.Errorf("%w: usage: %s <vaddr>", errSyntax, o.kind)
		}

		o.vAddr, err = strconv.ParseUint(args[0], 0, 64)
	case opSpace:
		if len(args) != 1 {
			return o, fmt.Errorf("%w: usage: space <pid>", errSyntax)
		}

		var pid uint64
		pid, err = strconv.ParseUint(args[0], 0, 32)
		o.pid = pagetable.PID(pid)
	case opStats:
		if len(args) != 0 {
			return o, fmt.Errorf("%w: stats takes no argument", errSyntax)
		}
	default:
		return o, fmt.Errorf("%w: unknown operation %q", errSyntax, fields[0])
	}

	if err != nil {
		return o, fmt.Errorf("%w: %s: %w", errSyntax, o.kind, err)
	}

	return o, nil
}

func parseRange(vAddrStr, pagesStr string) (uint64, int, error) {
	vAddr, err := strconv.ParseUint(vAddrStr, 0, 64)
	if err != nil {
		return 0, 0, err
	}

	pages, err := strconv.ParseInt(pagesStr, 0, 32)
	if err != nil {
		return 0, 0, err
	}

	return vAddr, int(pages), nil
}

func parsePermission(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "rw", "w", "write":
		return true, nil
	case "ro", "r", "read":
		return false, nil
	}

	return false, fmt.Errorf("permission %q is neither rw nor ro", s)
}

// A session runs ops against a device. Each pid gets its own address space,
// created the first time it is used. Pid 1 is used until a space op says
// otherwise.
type session struct {
	dev     *memdev.Device
	out     io.Writer
	spaces  map[pagetable.PID]*pagetable.AddressSpace
	current *pagetable.AddressSpace

	onNewSpace func(*pagetable.AddressSpace)
	bar        *monitoring.ProgressBar

	failed int
}

func newSession(dev *memdev.Device, out io.Writer) *session {
	return &session{
		dev:    dev,
		out:    out,
		spaces: make(map[pagetable.PID]*pagetable.AddressSpace),
	}
}

func (s *session) space(pid pagetable.PID) (*pagetable.AddressSpace, error) {
	if as, ok := s.spaces[pid]; ok {
		return as, nil
	}

	as, err := s.dev.Engine().NewAddressSpace(pid)
	if err != nil {
		return nil, fmt.Errorf("creating address space %d: %w", pid, err)
	}

	s.spaces[pid] = as
	if s.onNewSpace != nil {
		s.onNewSpace(as)
	}

	return as, nil
}

// run executes all ops and stops at the first error that is not a request
// status.
func (s *session) run(ops []op) error {
	if s.current == nil {
		as, err := s.space(1)
		if err != nil {
			return err
		}

		s.current = as
	}

	for _, o := range ops {
		if err := s.exec(o); err != nil {
			return fmt.Errorf("line %d: %w", o.line, err)
		}
	}

	return nil
}

func (s *session) exec(o op) error {
	switch o.kind {
	case opAlloc:
		status := s.dev.Allocate(s.current, memdev.AllocInfo{
			VAddr:    o.vAddr,
			NumPages: int32(o.pages),
			Write:    o.write,
		})
		perm := pagetable.PermissionFor(o.write)
		s.report(status, "alloc 0x%x %d %s", o.vAddr, o.pages, perm)
	case opFree:
		status := s.dev.Free(s.current, memdev.FreeInfo{VAddr: o.vAddr})
		s.report(status, "free 0x%x", o.vAddr)
	case opProbe:
		mapped := s.dev.Engine().IsMapped(s.current, o.vAddr, o.pages)
		fmt.Fprintf(s.out, "probe 0x%x %d: mapped=%t\n", o.vAddr, o.pages, mapped)
	case opLookup:
		leaf, found := s.dev.Engine().Lookup(s.current, o.vAddr)
		if !found {
			fmt.Fprintf(s.out, "lookup 0x%x: not mapped\n", o.vAddr)
			break
		}

		fmt.Fprintf(s.out, "lookup 0x%x: paddr=0x%x %s descriptor=0x%016x\n",
			o.vAddr, leaf.PAddr(), leaf.Permission, leaf.Descriptor)
	case opStats:
		st := s.dev.Engine().Stats()
		fmt.Fprintf(s.out,
			"stats: allocations=%d/%d pages=%d/%d nodes=%d frames=%d/%d\n",
			st.TotalAllocations, st.MaxAllocations,
			st.TotalPagesAllocated, st.MaxPages,
			st.Nodes, st.FramesInUse, st.FramesTotal)
	case opSpace:
		as, err := s.space(o.pid)
		if err != nil {
			return err
		}

		s.current = as
		fmt.Fprintf(s.out, "space %d\n", o.pid)
	}

	return nil
}

func (s *session) report(status memdev.Status, format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
	fmt.Fprintf(s.out, ": %s (%d)\n", status, int32(status))

	if status != memdev.StatusOK {
		s.failed++
	}

	if s.bar == nil {
		return
	}

	if status == memdev.StatusOK {
		s.bar.Succeed()
	} else {
		s.bar.Fail()
	}
}

func countRequests(ops []op) int {
	n := 0
	for _, o := range ops {
		if o.isRequest() {
			n++
		}
	}

	return n
}
