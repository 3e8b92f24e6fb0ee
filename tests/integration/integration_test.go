package integration

import (
	"context"
	"flag"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MetalBlockchain/metalgo/utils/logging"
	"github.com/MetalBlockchain/pulseprof/client"
	"github.com/MetalBlockchain/pulseprof/constants"
	"github.com/MetalBlockchain/pulseprof/engine"
	"github.com/MetalBlockchain/pulseprof/engine/enginetest"
	"github.com/MetalBlockchain/pulseprof/status"
	"github.com/MetalBlockchain/pulseprof/vm"
	ginkgo "github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
)

func TestIntegration(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "pulseprof integration test suites")
}

var (
	requestTimeout time.Duration

	server *httptest.Server
	cli    client.Client
)

func init() {
	flag.DurationVar(
		&requestTimeout,
		"request-timeout",
		30*time.Second,
		"timeout for each API request",
	)
}

const config = `{
	"compute-budget": 10000,
	"syscall-base-cost": 100,
	"instruction-cost": 0
}`

var _ = ginkgo.BeforeSuite(func() {
	profiler := &vm.VM{}
	err := profiler.Initialize(context.Background(), logging.NoLog{}, prometheus.NewRegistry(), []byte(config))
	gomega.Ω(err).Should(gomega.BeNil())

	handlers, err := profiler.CreateHandlers(context.Background())
	gomega.Ω(err).Should(gomega.BeNil())

	// The client appends vm.Endpoint to the server URI.
	server = httptest.NewServer(handlers[vm.Endpoint])
	cli = client.New(server.URL)
})

var _ = ginkgo.AfterSuite(func() {
	server.Close()
})

func program(names string, body func(p *enginetest.Program) []byte) []byte {
	p := &enginetest.Program{
		HostModule: engine.HostModuleName,
		Data:       []byte(names),
	}
	for _, name := range []string{"log_compute_units_start", "log_compute_units_end", "log_compute_units", "alloc"} {
		params, results, ok := engine.SyscallSignature(name)
		gomega.Ω(ok).Should(gomega.BeTrue())
		p.Imports = append(p.Imports, enginetest.Syscall{Name: name, Params: params, Results: results})
	}
	p.Body = body(p)
	return p.Bytes()
}

var _ = ginkgo.Describe("[Ping]", func() {
	ginkgo.It("can ping", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		ok, err := cli.Ping(ctx)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(ok).Should(gomega.BeTrue())
	})

	ginkgo.It("reports its version", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		version, err := cli.Version(ctx)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(version).Should(gomega.Equal(constants.Version.String()))
	})
})

var _ = ginkgo.Describe("[Profile]", func() {
	// Two sibling loops inside a parent; "b" is opened twice.
	nested := program("parentab", func(p *enginetest.Program) []byte {
		start := p.Index("log_compute_units_start")
		end := p.Index("log_compute_units_end")
		logCU := enginetest.Call(p.Index("log_compute_units"))
		return enginetest.Concat(
			enginetest.SectionCall(start, 0, 6, 0, true),
			enginetest.SectionCall(start, 6, 1, 100, true),
			logCU,
			enginetest.SectionCall(end, 6, 1, 150, true),
			enginetest.SectionCall(start, 7, 1, 150, true),
			enginetest.SectionCall(start, 7, 1, 150, true),
			logCU,
			logCU,
			enginetest.SectionCall(end, 7, 1, 200, true),
			enginetest.SectionCall(end, 7, 1, 250, true),
			logCU,
			enginetest.SectionCall(end, 0, 6, 300, true),
		)
	})

	ginkgo.It("attributes usage to nested sections", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		report, err := cli.Profile(ctx, nested, 0)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(report.Status).Should(gomega.Equal(status.Succeeded))
		gomega.Ω(report.ComputeConsumed).Should(gomega.Equal(uint64(400)))
		gomega.Ω(report.OpenSections).Should(gomega.BeEmpty())

		ids := make([]string, len(report.Sections))
		for i, section := range report.Sections {
			ids[i] = section.ID
		}
		gomega.Ω(ids).Should(gomega.Equal([]string{"a", "b", "b", "parent"}))

		a, innerB, outerB, parent := report.Sections[0], report.Sections[1], report.Sections[2], report.Sections[3]
		gomega.Ω(a.NetCU).Should(gomega.Equal(uint64(100)))
		gomega.Ω(a.Heap.TotalHeap).Should(gomega.Equal(uint64(50)))

		// The second "b" start is matched by the first "b" end.
		gomega.Ω(innerB.StartSequence).Should(gomega.Equal(uint64(4)))
		gomega.Ω(innerB.TotalCU).Should(gomega.Equal(uint64(200)))
		gomega.Ω(outerB.TotalCU).Should(gomega.Equal(uint64(200)))
		gomega.Ω(outerB.NetCU).Should(gomega.Equal(uint64(0)))
		gomega.Ω(outerB.Heap.NetHeap).Should(gomega.Equal(uint64(50)))

		// Every enclosed section is subtracted, the nested "b" included, so
		// the parent's net compute saturates at zero.
		gomega.Ω(parent.TotalCU).Should(gomega.Equal(uint64(400)))
		gomega.Ω(parent.NetCU).Should(gomega.Equal(uint64(0)))
		gomega.Ω(parent.Heap.TotalHeap).Should(gomega.Equal(uint64(300)))
		gomega.Ω(parent.Heap.NetHeap).Should(gomega.Equal(uint64(100)))
		gomega.Ω(parent.Heap.RemainingHeap).Should(gomega.Equal(uint64(32_000)))
	})

	ginkgo.It("isolates sessions", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		first, err := cli.Profile(ctx, nested, 0)
		gomega.Ω(err).Should(gomega.BeNil())
		second, err := cli.Profile(ctx, nested, 0)
		gomega.Ω(err).Should(gomega.BeNil())

		gomega.Ω(second.SessionID).ShouldNot(gomega.Equal(first.SessionID))
		gomega.Ω(second.Sections).Should(gomega.Equal(first.Sections))
	})

	ginkgo.It("reports budget exhaustion", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		report, err := cli.Profile(ctx, nested, 250)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(report.Status).Should(gomega.Equal(status.ComputeExceeded))
		gomega.Ω(report.ComputeConsumed).Should(gomega.Equal(uint64(250)))
		gomega.Ω(report.Sections).Should(gomega.HaveLen(1))
		gomega.Ω(report.OpenSections).Should(gomega.HaveLen(3))
	})

	ginkgo.It("rejects invalid programs", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		_, err := cli.Profile(ctx, []byte("not wasm"), 0)
		gomega.Ω(err).ShouldNot(gomega.BeNil())
	})
})
