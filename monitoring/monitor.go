// Package monitoring serves the state of running allocation engines over
// HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/memalloc/mem/vm/memalloc"
	"github.com/sarchlab/memalloc/mem/vm/pagetable"
	"github.com/sarchlab/memalloc/monitoring/web"
	"github.com/sarchlab/memalloc/sim"
)

// Monitor turns a set of engines into a server that can be inspected while
// requests are being served.
type Monitor struct {
	lock        sync.RWMutex
	engines     map[string]*memalloc.Engine
	spaces      map[string]map[pagetable.PID]*pagetable.AddressSpace
	portNumber  int
	openBrowser bool
	profileTime time.Duration
	idGenerator sim.IDGenerator
	server      *http.Server

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		engines:     make(map[string]*memalloc.Engine),
		spaces:      make(map[string]map[pagetable.PID]*pagetable.AddressSpace),
		profileTime: time.Second,
		idGenerator: sim.NewParallelIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser makes StartServer open the monitoring page in a browser.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileTime = d
	return m
}

// RegisterEngine registers an engine to be monitored.
func (m *Monitor) RegisterEngine(e *memalloc.Engine) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, exists := m.engines[e.Name()]; exists {
		panic(fmt.Sprintf("engine %s is already registered", e.Name()))
	}

	m.engines[e.Name()] = e
	m.spaces[e.Name()] = make(map[pagetable.PID]*pagetable.AddressSpace)
}

// RegisterAddressSpace makes an address space of a registered engine
// available for translation queries.
func (m *Monitor) RegisterAddressSpace(
	e *memalloc.Engine,
	as *pagetable.AddressSpace,
) {
	m.lock.Lock()
	defer m.lock.Unlock()

	spaces, ok := m.spaces[e.Name()]
	if !ok {
		panic(fmt.Sprintf("engine %s is not registered", e.Name()))
	}

	spaces[as.PID()] = as
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGenerator.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/engines", m.listEngines)
	r.HandleFunc("/api/engine/{name}", m.engineDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/stats/{name}", m.engineStats)
	r.HandleFunc("/api/spaces/{name}", m.listSpaces)
	r.HandleFunc("/api/translate/{name}/{pid}/{vaddr}", m.translate)
	r.HandleFunc("/api/frame/{name}/{pfn}", m.frameContent)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitoring page.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.lock.Lock()
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := m.server
	m.lock.Unlock()

	fmt.Fprintf(os.Stderr, "Monitoring memalloc with %s\n", url)

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panic(err)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return url, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.lock.RLock()
	server := m.server
	m.lock.RUnlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (m *Monitor) listEngines(w http.ResponseWriter, _ *http.Request) {
	m.lock.RLock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	m.lock.RUnlock()

	sort.Strings(names)
	writeJSON(w, names)
}

func (m *Monitor) engineDetails(w http.ResponseWriter, r *http.Request) {
	engine := m.findEngineOr404(w, mux.Vars(r)["name"])
	if engine == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(engine)
	serializer.SetMaxDepth(1)

	serializeLocked(w, engine, serializer)
}

// serializeLocked renders the engine state while no request runs, then sends
// it.
func serializeLocked(
	w http.ResponseWriter,
	engine *memalloc.Engine,
	serializer goseth.Serializer,
) {
	buf := new(bytes.Buffer)

	var err error
	engine.Inspect(func() {
		err = serializer.Serialize(buf)
	})

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(buf.Bytes())
	dieOnErr(err)
}

type fieldReq struct {
	EngineName string `json:"engine_name,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	engine := m.findEngineOr404(w, req.EngineName)
	if engine == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(engine)
	serializer.SetMaxDepth(1)

	engine.Inspect(func() {
		err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	serializeLocked(w, engine, serializer)
}

func (m *Monitor) engineStats(w http.ResponseWriter, r *http.Request) {
	engine := m.findEngineOr404(w, mux.Vars(r)["name"])
	if engine == nil {
		return
	}

	writeJSON(w, engine.Stats())
}

func (m *Monitor) listSpaces(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if m.findEngineOr404(w, name) == nil {
		return
	}

	m.lock.RLock()
	pids := make([]pagetable.PID, 0, len(m.spaces[name]))
	for pid := range m.spaces[name] {
		pids = append(pids, pid)
	}
	m.lock.RUnlock()

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	writeJSON(w, pids)
}

type translateRsp struct {
	VAddr      string `json:"vaddr"`
	Mapped     bool   `json:"mapped"`
	PAddr      string `json:"paddr,omitempty"`
	Frame      uint64 `json:"frame,omitempty"`
	Permission string `json:"permission,omitempty"`
	Descriptor string `json:"descriptor,omitempty"`
}

func (m *Monitor) translate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	engine := m.findEngineOr404(w, vars["name"])
	if engine == nil {
		return
	}

	pid, err := strconv.ParseUint(vars["pid"], 10, 32)
	if err != nil {
		http.Error(w, "bad pid", http.StatusBadRequest)
		return
	}

	vAddr, err := strconv.ParseUint(vars["vaddr"], 0, 64)
	if err != nil {
		http.Error(w, "bad virtual address", http.StatusBadRequest)
		return
	}

	m.lock.RLock()
	as := m.spaces[engine.Name()][pagetable.PID(pid)]
	m.lock.RUnlock()

	if as == nil {
		http.Error(w, "address space not found", http.StatusNotFound)
		return
	}

	rsp := translateRsp{VAddr: fmt.Sprintf("0x%x", vAddr)}

	leaf, found := engine.Lookup(as, vAddr)
	if found {
		rsp.Mapped = true
		rsp.PAddr = fmt.Sprintf("0x%x", leaf.PAddr())
		rsp.Frame = leaf.Frame
		rsp.Permission = leaf.Permission.String()
		rsp.Descriptor = fmt.Sprintf("0x%016x", leaf.Descriptor)
	}

	writeJSON(w, rsp)
}

type frameWord struct {
	Offset string `json:"offset"`
	Value  string `json:"value"`
}

type frameRsp struct {
	Frame uint64      `json:"frame"`
	Words []frameWord `json:"words"`
}

// frameContent lists the non-zero 8-byte words of a physical frame.
func (m *Monitor) frameContent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	engine := m.findEngineOr404(w, vars["name"])
	if engine == nil {
		return
	}

	pfn, err := strconv.ParseUint(vars["pfn"], 0, 64)
	if err != nil {
		http.Error(w, "bad frame number", http.StatusBadRequest)
		return
	}

	data, err := engine.ReadFrame(pfn)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	rsp := frameRsp{Frame: pfn, Words: []frameWord{}}
	for off := 0; off+pagetable.EntrySize <= len(data); off += pagetable.EntrySize {
		v := binary.LittleEndian.Uint64(data[off:])
		if v == 0 {
			continue
		}

		rsp.Words = append(rsp.Words, frameWord{
			Offset: fmt.Sprintf("0x%03x", off),
			Value:  fmt.Sprintf("0x%016x", v),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findEngineOr404(
	w http.ResponseWriter,
	name string,
) *memalloc.Engine {
	m.lock.RLock()
	engine := m.engines[name]
	m.lock.RUnlock()

	if engine == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Engine not found"))
		dieOnErr(err)
	}

	return engine
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]*ProgressBar, len(m.progressBars))
	copy(bars, m.progressBars)
	m.progressBarsLock.Unlock()

	for _, b := range bars {
		b.Lock()
	}

	data, err := json.Marshal(bars)

	for _, b := range bars {
		b.Unlock()
	}

	dieOnErr(err)

	_, err = w.Write(data)
	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memoryInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileTime)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(data)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
