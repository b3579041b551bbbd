// Command tcptund runs a listen-only user-space TCP endpoint over a
// Linux TUN device, demonstrating the bind/accept/read/write API with
// a simple echo loop per connection.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tcptun/tcptun/metrics"
	"github.com/tcptun/tcptun/tundev"
	"github.com/tcptun/tcptun/tunstack"
)

func main() {
	var (
		flagTun     = flag.String("tun", "tun0", "name of the TUN interface to open or create")
		flagPort    = flag.Int("port", 5900, "TCP port to bind and accept connections on")
		flagMetrics = flag.String("metrics", ":9273", "address to serve /metrics on; empty disables it")
		flagVerbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*flagTun, uint16(*flagPort), *flagMetrics, logger); err != nil {
		logger.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(tunName string, port uint16, metricsAddr string, logger *slog.Logger) error {
	dev, err := tundev.Open(tunName)
	if err != nil {
		return err
	}
	logger.Info("tunnel opened", "name", dev.Name())

	collector := metrics.New()
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	iface := tunstack.New(dev, logger, collector)
	defer iface.Close()

	listener, err := iface.Bind(port)
	if err != nil {
		return err
	}
	logger.Info("listening", "port", port)

	for {
		stream, err := listener.Accept()
		if err != nil {
			return err
		}
		go echo(stream, logger)
	}
}

// echo polls a Stream and reflects back whatever it reads. Reads and
// writes both fail with tunstack.ErrWouldBlock rather than blocking,
// per the minimal core's documented gaps, so this loop backs off on an
// empty read instead of busy-spinning. Any write error, ErrWouldBlock
// included, ends the loop.
func echo(stream *tunstack.Stream, logger *slog.Logger) {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if err != nil {
			if err == tunstack.ErrWouldBlock {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			logger.Debug("stream closed", "err", err)
			return
		}
		if _, err := stream.Write(buf[:n]); err != nil {
			logger.Debug("write failed", "err", err)
			return
		}
	}
}
