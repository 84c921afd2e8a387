package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
)

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *memalloc.Engine
		as     *pagetable.AddressSpace
		router http.Handler
	)

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

		return rec
	}

	BeforeEach(func() {
		engine = memalloc.MakeBuilder().
			WithFormat(pagetable.NewX86Format()).
			Build("MemAlloc")

		var err error
		as, err = engine.NewAddressSpace(42)
		Expect(err).NotTo(HaveOccurred())

		_, err = engine.Allocate(as, memalloc.AllocRequest{
			VAddr: 0x10000, Pages: 3, Write: true,
		})
		Expect(err).NotTo(HaveOccurred())

		m = NewMonitor().WithProfileDuration(10 * time.Millisecond)
		m.RegisterEngine(engine)
		m.RegisterAddressSpace(engine, as)
		router = m.Router()
	})

	It("should replace reserved ports with a random one", func() {
		Expect(NewMonitor().WithPortNumber(80).portNumber).To(Equal(0))
		Expect(NewMonitor().WithPortNumber(8080).portNumber).To(Equal(8080))
	})

	It("should refuse to register an engine twice", func() {
		Expect(func() { m.RegisterEngine(engine) }).To(Panic())
	})

	It("should list engines", func() {
		rec := get("/api/engines")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`["MemAlloc"]`))
	})

	It("should report engine stats", func() {
		rec := get("/api/stats/MemAlloc")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var stats memalloc.Stats
		Expect(json.Unmarshal(rec.Body.Bytes(), &stats)).To(Succeed())
		Expect(stats.TotalAllocations).To(Equal(1))
		Expect(stats.TotalPagesAllocated).To(Equal(3))
		Expect(stats.Format).To(Equal("x86_64"))
	})

	It("should answer 404 for unknown engines", func() {
		Expect(get("/api/stats/Other").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/engine/Other").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/translate/Other/42/0x10000").Code).
			To(Equal(http.StatusNotFound))
	})

	It("should serialize the engine", func() {
		rec := get("/api/engine/MemAlloc")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should serialize the engine while requests run", func() {
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)

			for i := 0; i < 20; i++ {
				_, err := engine.Allocate(as, memalloc.AllocRequest{
					VAddr: uint64(i+1) << 30, Pages: 1,
				})
				Expect(err).NotTo(HaveOccurred())
			}
		}()

		for i := 0; i < 20; i++ {
			Expect(get("/api/engine/MemAlloc").Code).To(Equal(http.StatusOK))
		}

		Eventually(done).Should(BeClosed())
	})

	It("should list the descriptors stored in a table frame", func() {
		root := as.Root().Frame().Number
		rec := get(fmt.Sprintf("/api/frame/MemAlloc/%d", root))

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp frameRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Frame).To(Equal(root))
		Expect(rsp.Words).To(Equal([]frameWord{{
			Offset: "0x000",
			Value:  fmt.Sprintf("0x%016x", as.P4D(0x10000).Load()),
		}}))
	})

	It("should validate frame parameters", func() {
		Expect(get("/api/frame/MemAlloc/zz").Code).To(Equal(http.StatusBadRequest))
		Expect(get("/api/frame/MemAlloc/0xffffffffff").Code).
			To(Equal(http.StatusNotFound))
		Expect(get("/api/frame/Other/0").Code).To(Equal(http.StatusNotFound))
	})

	It("should reject malformed field requests", func() {
		Expect(get("/api/field/notjson").Code).To(Equal(http.StatusBadRequest))
	})

	It("should list address spaces", func() {
		rec := get("/api/spaces/MemAlloc")

		Expect(rec.Body.String()).To(MatchJSON(`[42]`))
	})

	It("should translate mapped addresses", func() {
		rec := get("/api/translate/MemAlloc/42/0x11000")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp translateRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Mapped).To(BeTrue())
		Expect(rsp.Permission).To(Equal("read-write"))
		Expect(rsp.PAddr).To(HavePrefix("0x"))
	})

	It("should report unmapped addresses", func() {
		rec := get("/api/translate/MemAlloc/42/0x13000")

		var rsp translateRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Mapped).To(BeFalse())
		Expect(rsp.Descriptor).To(BeEmpty())
	})

	It("should validate translate parameters", func() {
		Expect(get("/api/translate/MemAlloc/x/0x10000").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get("/api/translate/MemAlloc/42/zz").Code).
			To(Equal(http.StatusBadRequest))
		Expect(get("/api/translate/MemAlloc/7/0x10000").Code).
			To(Equal(http.StatusNotFound))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("script", 3)
		bar.Succeed()
		bar.Fail()

		rec := get("/api/progress")

		var bars []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["name"]).To(Equal("script"))
		Expect(bars[0]["succeeded"]).To(BeNumerically("==", 1))
		Expect(bars[0]["failed"]).To(BeNumerically("==", 1))
		Expect(bar.Done()).To(Equal(uint64(2)))

		m.CompleteProgressBar(bar)
		Expect(get("/api/progress").Body.String()).To(MatchJSON(`[]`))
	})

	It("should report process resources", func() {
		rec := get("/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should collect a CPU profile", func() {
		rec := get("/api/profile")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("SampleType"))
	})

	It("should serve the web page", func() {
		rec := get("/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("<!DOCTYPE html>"))
	})
})
