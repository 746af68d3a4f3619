package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/bbperf/controller"
	"github.com/m-lab/bbperf/session"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	serverMode = flag.Bool("s", false, "run as a server")
	clientAddr = flag.String("c", "", "run as a client, connecting to this server address")
	port       = flag.Int("p", 5301, "server port")
	download   = flag.Bool("R", false, "reverse direction: server sends, client receives")
	duration   = flag.Int("t", 10, "test duration in seconds")
	udp        = flag.Bool("u", false, "use UDP instead of TCP for the data channel")
	bandwidth  = flag.String("b", "", "bandwidth cap, e.g. 10M, 500K, or 500pps (default unlimited)")
	graph      = flag.Bool("g", false, "generate a graph from the run's data file")
	keep       = flag.Bool("k", false, "keep temporary data files instead of deleting them at teardown")
	verbosity  verbosityCounter

	metricsAddr = flag.String("metrics", "", "address to expose Prometheus metrics on (disabled if empty)")
	gnuplotPath = flag.String("gnuplot", "gnuplot", "path to the gnuplot binary used to render -g graphs")
)

// verbosityCounter implements flag.Value so that -v may be repeated
// (-v -v -v) to raise verbosity, matching the original CLI's behavior
// rather than taking a numeric argument.
type verbosityCounter int

func (c *verbosityCounter) String() string { return "" }

func (c *verbosityCounter) Set(string) error {
	*c++
	return nil
}

func (c *verbosityCounter) IsBoolFlag() bool { return true }

func init() {
	flag.Var(&verbosity, "v", "increase verbosity (may be repeated)")
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not read flags from environment")

	if *serverMode == (*clientAddr != "") {
		log.Fatal("exactly one of -s or -c <ip> must be given")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *metricsAddr != "" {
		promSrv := prometheusx.MustStartPrometheus(*metricsAddr)
		defer promSrv.Shutdown(ctx)
	}

	if *serverMode {
		runServer(ctx)
		return
	}
	runClient(ctx)
}

func runServer(ctx context.Context) {
	log.Printf("bbperf server listening on port %d", *port)
	rtx.Must(controller.RunServer(ctx, *port), "server run failed")
}

func runClient(ctx context.Context) {
	bw, err := session.ParseBandwidth(*bandwidth)
	rtx.Must(err, "invalid -b bandwidth cap %q", *bandwidth)

	direction := session.Upload
	if *download {
		direction = session.Download
	}
	transport := session.TCP
	if *udp {
		transport = session.UDP
	}

	cfg := session.RunConfig{
		Transport:       transport,
		Direction:       direction,
		DurationSeconds: *duration,
		ServerPort:      *port,
		Bandwidth:       bw,
		Verbosity:       int(verbosity),
		Graph:           *graph,
		Keep:            *keep,
	}

	if cfg.Verbosity > 0 {
		log.Printf("args: %+v", cfg)
	}

	rtx.Must(controller.RunClient(ctx, *clientAddr, cfg, *gnuplotPath), "client run failed")
}
