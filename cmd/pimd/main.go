//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pimclock "github.com/pim-sm/pimd/internal/clock"
	"github.com/pim-sm/pimd/internal/control"
	"github.com/pim-sm/pimd/internal/ipaddr"
	"github.com/pim-sm/pimd/internal/membership"
	"github.com/pim-sm/pimd/internal/mfea"
	"github.com/pim-sm/pimd/internal/node"
	"github.com/pim-sm/pimd/internal/types"
)

var (
	sockFile       = flag.String("sock-file", "/var/run/pimd/pimd.sock", "path to the pimd control domain socket")
	vifNames       = flag.String("vifs", "", "comma-separated list of interfaces to run PIM-SM on")
	candBSRVif     = flag.String("cand-bsr-vif", "", "interface to advertise as Candidate-BSR, if any")
	candBSRPrio    = flag.Uint("cand-bsr-priority", 0, "Candidate-BSR priority")
	candRPVif      = flag.String("cand-rp-vif", "", "interface to advertise as Candidate-RP, if any")
	candRPPrio     = flag.Uint("cand-rp-priority", 192, "Candidate-RP priority")
	candRPGroups   = flag.String("cand-rp-groups", "224.0.0.0/4", "comma-separated group prefixes this Candidate-RP serves")
	metricsEnable  = flag.Bool("metrics-enable", false, "enable the Prometheus metrics endpoint")
	metricsAddr    = flag.String("metrics-addr", "localhost:0", "address to listen on for Prometheus metrics")
	verboseLogging = flag.Bool("v", false, "enable verbose (debug) logging")
	versionFlag    = flag.Bool("version", false, "print build version and exit")

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flag.Parse()

	opts := &slog.HandlerOptions{}
	if *verboseLogging {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)

	if *versionFlag {
		fmt.Printf("build: %s\n", commit)
		fmt.Printf("version: %s\n", version)
		fmt.Printf("date: %s\n", date)
		os.Exit(0)
	}

	if *vifNames == "" {
		slog.Error("at least one interface must be given via -vifs")
		os.Exit(1)
	}

	if *metricsEnable {
		buildInfo := promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "pimd_build_info", Help: "Build information of pimd"},
			[]string{"version", "commit", "date"},
		)
		buildInfo.WithLabelValues(version, commit, date).Set(1)

		go func() {
			listener, err := net.Listen("tcp", *metricsAddr)
			if err != nil {
				slog.Error("failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, mux); err != nil {
				log.Printf("prometheus metrics server exited: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := pimclock.New()
	sender, err := newSocketSender()
	if err != nil {
		slog.Error("failed to build PIM socket sender", "error", err)
		os.Exit(1)
	}

	n := node.New(sched, mfea.NewFakeBridge(), membership.NewFakeTracker(), sender)

	var idx types.VifIndex
	for _, name := range strings.Split(*vifNames, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := bringUpVif(n, sender, name, idx); err != nil {
			slog.Error("failed to bring up vif", "name", name, "error", err)
			os.Exit(1)
		}
		if *candBSRVif == name {
			if err := n.AddConfigCandBSR(control.CandBSRParams{Vif: idx, Priority: uint8(*candBSRPrio), HashMaskLen: 30}); err != nil {
				slog.Error("failed to activate Candidate-BSR", "error", err)
			}
		}
		if *candRPVif == name {
			prefixes := parseGroupPrefixes(*candRPGroups)
			params := control.CandRPParams{Vif: idx, Priority: uint8(*candRPPrio), Holdtime: 150, GroupPrefixes: prefixes}
			if err := n.AddConfigCandRP(params); err != nil {
				slog.Error("failed to activate Candidate-RP", "error", err)
			}
		}
		idx++
	}

	srv := control.NewServer(n, control.WithSockFile(*sockFile), control.WithBaseContext(ctx))
	go func() {
		if err := srv.ListenAndServeUnix(); err != nil && err != http.ErrServerClosed {
			slog.Error("control server exited", "error", err)
		}
	}()

	go sched.Run()
	go sender.receiveLoop(n)

	<-ctx.Done()
	slog.Info("shutting down")
	n.Shutdown()
	sched.Stop()
	_ = srv.Close()
	sender.closeAll()
}

func parseGroupPrefixes(s string) []ipaddr.IPvXNet {
	parts := strings.Split(s, ",")
	out := make([]ipaddr.IPvXNet, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := ipaddr.ParseNet(p)
		if err != nil {
			slog.Warn("skipping unparseable candidate-RP group prefix", "prefix", p, "error", err)
			continue
		}
		out = append(out, n)
	}
	return out
}
