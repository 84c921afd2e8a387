package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/memalloc/datarecording"
	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

var _ = Describe("LogHook", func() {
	var (
		buf    *bytes.Buffer
		engine *memalloc.Engine
		as     *pagetable.AddressSpace
	)

	build := func(level slog.Level) {
		buf = new(bytes.Buffer)
		logger := slog.New(slog.NewTextHandler(buf,
			&slog.HandlerOptions{Level: level}))

		engine = memalloc.MakeBuilder().
			WithFormat(pagetable.NewX86Format()).
			Build("MemAlloc")
		LogTo(engine, NewLogHook(logger))

		var err error
		as, err = engine.NewAddressSpace(7)
		Expect(err).NotTo(HaveOccurred())
	}

	It("should log a successful allocation", func() {
		build(slog.LevelInfo)

		_, err := engine.Allocate(as, memalloc.AllocRequest{
			VAddr: 0x10000, Pages: 3, Write: true,
		})
		Expect(err).NotTo(HaveOccurred())

		out := buf.String()
		Expect(out).To(ContainSubstring(
			"allocated 3 pages at 0x10000 with read-write"))
		Expect(out).To(ContainSubstring("domain=MemAlloc"))
		Expect(out).To(ContainSubstring("pid=7"))
		Expect(out).NotTo(ContainSubstring("table created"))
	})

	It("should log a rejection with its reason", func() {
		build(slog.LevelInfo)

		_, err := engine.Allocate(as, memalloc.AllocRequest{VAddr: 0x10001, Pages: 1})
		Expect(err).To(HaveOccurred())

		out := buf.String()
		Expect(out).To(ContainSubstring("level=WARN"))
		Expect(out).To(ContainSubstring("outcome=rejected"))
		Expect(out).To(ContainSubstring("invalid argument"))
	})

	It("should log table and leaf updates at debug level", func() {
		build(slog.LevelDebug)

		_, err := engine.Allocate(as, memalloc.AllocRequest{VAddr: 0x10000, Pages: 1})
		Expect(err).NotTo(HaveOccurred())
		engine.Release(as, memalloc.FreeRequest{VAddr: 0x10000})

		out := buf.String()
		Expect(out).To(ContainSubstring("allocate requested"))
		Expect(out).To(ContainSubstring("table created"))
		Expect(out).To(ContainSubstring("table=PMD"))
		Expect(out).To(ContainSubstring("leaf installed"))
		Expect(out).To(ContainSubstring("free ignored"))
	})
})

var _ = Describe("RecordingHook", func() {
	var (
		mockCtrl *gomock.Controller
		recorder *MockDataRecorder
		engine   *memalloc.Engine
		as       *pagetable.AddressSpace
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		recorder = NewMockDataRecorder(mockCtrl)

		recorder.EXPECT().CreateTable(ResultTable, ResultRecord{})
		recorder.EXPECT().CreateTable(LeafTable, LeafRecord{})

		engine = memalloc.MakeBuilder().
			WithFormat(pagetable.NewX86Format()).
			Build("MemAlloc")
		CollectResults(engine, recorder)

		var err error
		as, err = engine.NewAddressSpace(3)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should record the result and the leaves of a request", func() {
		var leaves []LeafRecord
		recorder.EXPECT().InsertData(LeafTable, gomock.Any()).
			Do(func(_ string, entry any) {
				leaves = append(leaves, entry.(LeafRecord))
			}).
			Times(2)
		recorder.EXPECT().InsertData(ResultTable, gomock.Any()).
			Do(func(_ string, entry any) {
				rec := entry.(ResultRecord)
				Expect(rec.Kind).To(Equal("allocate"))
				Expect(rec.PID).To(Equal(uint32(3)))
				Expect(rec.PagesInstalled).To(Equal(2))
				Expect(rec.Permission).To(Equal("read-only"))
				Expect(rec.Outcome).To(Equal("allocated"))
				Expect(rec.Error).To(BeEmpty())
			})

		_, err := engine.Allocate(as, memalloc.AllocRequest{VAddr: 0x20000, Pages: 2})

		Expect(err).NotTo(HaveOccurred())
		Expect(leaves[1].VAddr).To(Equal("0x21000"))
		Expect(leaves[1].Frame).To(HavePrefix("0x"))
		Expect(leaves[0].Descriptor).To(HavePrefix("0x80000000"))
	})

	It("should record failures and ignored frees", func() {
		var recs []ResultRecord
		recorder.EXPECT().InsertData(ResultTable, gomock.Any()).
			Do(func(_ string, entry any) {
				recs = append(recs, entry.(ResultRecord))
			}).
			Times(2)

		_, err := engine.Allocate(as, memalloc.AllocRequest{VAddr: 0x20000, Pages: 0})
		Expect(err).To(HaveOccurred())
		engine.Release(as, memalloc.FreeRequest{VAddr: 0x20000})

		Expect(recs[0].Outcome).To(Equal("rejected"))
		Expect(recs[0].Error).To(ContainSubstring("invalid argument"))
		Expect(recs[1].Kind).To(Equal("free"))
		Expect(recs[1].Outcome).To(Equal("release-ignored"))
		Expect(recs[1].Permission).To(BeEmpty())
	})
})

var _ = Describe("RecordingHook with SQLite", func() {
	It("should store addresses with bit 63 set", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		recorder := datarecording.New(path)

		engine := memalloc.MakeBuilder().
			WithFormat(pagetable.NewX86Format()).
			Build("MemAlloc")
		CollectResults(engine, recorder)

		as, err := engine.NewAddressSpace(1)
		Expect(err).NotTo(HaveOccurred())

		engine.Release(as, memalloc.FreeRequest{VAddr: 0xffff800000000000})
		_, err = engine.Allocate(as, memalloc.AllocRequest{
			VAddr: 0x10000, Pages: 1, Write: true,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(recorder.Flush).NotTo(Panic())
		Expect(recorder.Close()).To(Succeed())

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(ResultTable, ResultRecord{})
		results, total, err := reader.Query(context.Background(), ResultTable,
			datarecording.QueryParams{OrderBy: "rowid"})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(2))
		Expect(results[0].(*ResultRecord).VAddr).To(Equal("0xffff800000000000"))
		Expect(results[1].(*ResultRecord).VAddr).To(Equal("0x10000"))

		reader.MapTable(LeafTable, LeafRecord{})
		leaves, _, err := reader.Query(context.Background(), LeafTable,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(leaves).To(HaveLen(1))
		Expect(leaves[0].(*LeafRecord).Descriptor).To(HavePrefix("0x80000000"))
	})
})
