package pagetable_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

var _ = Describe("Allocating over a malformed entry", func() {
	It("should reject the request before mapping any page", func() {
		engine := memalloc.MakeBuilder().
			WithFormat(pagetable.NewX86Format()).
			Build("MemAlloc")
		format := engine.Format()
		arena := engine.Arena()

		as, err := engine.NewAddressSpace(1)
		Expect(err).NotTo(HaveOccurred())

		_, err = engine.Allocate(as, memalloc.AllocRequest{VAddr: 0x100000, Pages: 1})
		Expect(err).NotTo(HaveOccurred())

		pud, _ := arena.NodeAt(format.FrameNumber(as.P4D(0x100000).Load()))
		pmd, _ := arena.NodeAt(format.FrameNumber(pud.EntryFor(0x100000).Load()))
		pmd.EntryFor(0x200000).Publish(0x50e7)
		before := engine.Stats()

		res, err := engine.Allocate(as, memalloc.AllocRequest{
			VAddr: 0x1ff000, Pages: 2, Write: true,
		})

		Expect(err).To(MatchError(memalloc.ErrInvalidArgument))
		Expect(err).To(MatchError(pagetable.ErrMalformedEntry))
		Expect(res.Outcome).To(Equal(memalloc.OutcomeRejected))
		Expect(res.PagesInstalled).To(BeZero())
		Expect(engine.IsMapped(as, 0x1ff000, 1)).To(BeFalse())
		Expect(engine.Stats()).To(Equal(before))
	})
})
