package pagetable_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/memalloc/mem/vm/frame"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

var _ = Describe("LevelBuilder", func() {
	var (
		format  *pagetable.ARM64Format
		arena   *pagetable.Arena
		as      *pagetable.AddressSpace
		builder *pagetable.LevelBuilder
	)

	BeforeEach(func() {
		format = pagetable.NewARM64Format()
		arena = pagetable.NewArena(frame.MakeBuilder().
			WithCapacity(64 * frame.PageSize).
			Build())

		var err error
		as, err = pagetable.NewAddressSpace(1, arena)
		Expect(err).NotTo(HaveOccurred())

		builder = pagetable.NewLevelBuilder(arena, format)
	})

	It("should link a new node into an empty entry", func() {
		pud, created, err := builder.EnsureNextLevel(as.Root(), 0x10000)

		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		Expect(pud.Level()).To(Equal(pagetable.LevelPUD))
		Expect(pud.NumPresent()).To(BeZero())
		Expect(as.P4D(0x10000).Load()).
			To(Equal(format.TableDescriptor(pud.Frame().Number)))

		parent, slot := pud.Parent()
		Expect(parent).To(Equal(as.Root().ID()))
		Expect(slot).To(Equal(0))
		Expect(format.Barriers()).To(Equal(uint64(1)))
	})

	It("should return the existing node", func() {
		first, _, _ := builder.EnsureNextLevel(as.Root(), 0x10000)

		second, created, err := builder.EnsureNextLevel(as.Root(), 0x7f000)

		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeFalse())
		Expect(second).To(BeIdenticalTo(first))
		Expect(format.Barriers()).To(Equal(uint64(1)))
	})

	It("should reject an entry that does not link a table", func() {
		as.P4D(0x10000).Publish(0x5001)

		_, _, err := builder.EnsureNextLevel(as.Root(), 0x10000)

		Expect(err).To(MatchError(pagetable.ErrMalformedEntry))
	})

	It("should reject an entry that links a node of another parent", func() {
		other, err := pagetable.NewAddressSpace(2, arena)
		Expect(err).NotTo(HaveOccurred())
		pud, _, _ := builder.EnsureNextLevel(other.Root(), 0x10000)

		as.P4D(0x10000).Publish(format.TableDescriptor(pud.Frame().Number))
		_, _, err = builder.EnsureNextLevel(as.Root(), 0x10000)

		Expect(err).To(MatchError(pagetable.ErrMalformedEntry))
	})

	It("should build every level down to the PTE node", func() {
		pte, created, err := builder.EnsureLeafTable(as, 0x10000)

		Expect(err).NotTo(HaveOccurred())
		Expect(pte.Level()).To(Equal(pagetable.LevelPTE))
		Expect(created).To(HaveLen(3))
		Expect(arena.NumNodes()).To(Equal(4))
		Expect(format.Barriers()).To(Equal(uint64(3)))

		again, created, err := builder.EnsureLeafTable(as, 0x11000)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeIdenticalTo(pte))
		Expect(created).To(BeEmpty())
	})

	It("should install a leaf only once", func() {
		pte, _, _ := builder.EnsureLeafTable(as, 0x10000)
		f := frame.Frame{Number: 42, Addr: 42 << 12}

		Expect(builder.InstallLeaf(pte, 0x10000, f, pagetable.ReadOnly)).To(Succeed())
		Expect(pte.EntryFor(0x10000).Load()).
			To(Equal(format.LeafDescriptor(42, pagetable.ReadOnly)))

		err := builder.InstallLeaf(pte, 0x10000, f, pagetable.ReadWrite)
		Expect(err).To(MatchError(pagetable.ErrEntryInUse))
	})

	It("should store published entries in the node frames", func() {
		pte, _, _ := builder.EnsureLeafTable(as, 0x10000)
		f := frame.Frame{Number: 42, Addr: 42 << 12}
		Expect(builder.InstallLeaf(pte, 0x10000, f, pagetable.ReadWrite)).To(Succeed())

		data, err := arena.ReadFrame(pte.Frame().Number)
		Expect(err).NotTo(HaveOccurred())
		Expect(binary.LittleEndian.Uint64(data[16*pagetable.EntrySize:])).
			To(Equal(format.LeafDescriptor(42, pagetable.ReadWrite)))

		data, err = arena.ReadFrame(as.Root().Frame().Number)
		Expect(err).NotTo(HaveOccurred())
		Expect(binary.LittleEndian.Uint64(data)).To(Equal(as.P4D(0x10000).Load()))
	})

	It("should refuse to build below the leaf level", func() {
		pte, _, _ := builder.EnsureLeafTable(as, 0x10000)

		Expect(func() { builder.EnsureNextLevel(pte, 0x10000) }).To(Panic())
	})

	Context("when frames run out", func() {
		var (
			mockCtrl *gomock.Controller
			frames   *MockAllocator
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			frames = NewMockAllocator(mockCtrl)
			arena = pagetable.NewArena(frames)
			builder = pagetable.NewLevelBuilder(arena, format)

			frames.EXPECT().Acquire().Return(frame.Frame{Number: 7}, nil)
			var err error
			as, err = pagetable.NewAddressSpace(1, arena)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should have no frame content to read", func() {
			_, err := arena.ReadFrame(7)

			Expect(err).To(MatchError(pagetable.ErrNoPhysicalMemory))
		})

		It("should leave the entry empty", func() {
			frames.EXPECT().Acquire().Return(frame.Frame{Number: 8}, nil)
			frames.EXPECT().Acquire().Return(frame.Frame{}, frame.ErrOutOfMemory)

			_, created, err := builder.EnsureLeafTable(as, 0x10000)

			Expect(err).To(MatchError(frame.ErrOutOfMemory))
			Expect(created).To(HaveLen(1))
			Expect(created[0].Level()).To(Equal(pagetable.LevelPUD))
			Expect(created[0].EntryFor(0x10000).IsNone()).To(BeTrue())
			Expect(arena.NumNodes()).To(Equal(2))
		})
	})
})
