// smoothmirror is a low-latency one-to-one remote desktop. One binary runs
// in one of four modes:
//
//	smoothmirror capture    stream this machine's display and audio
//	smoothmirror display    view a remote machine and forward input
//	smoothmirror relay      rendezvous relay for endpoints behind NAT
//	smoothmirror priveleged internal: elevated helper for the displayer
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/superkooks/smoothmirror/internal/config"
	"github.com/superkooks/smoothmirror/internal/relay"
	"github.com/superkooks/smoothmirror/internal/stats"
)

// Exit codes per the CLI contract.
const (
	exitOK       = 0
	exitSetup    = 1
	exitProtocol = 2
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s capture|display|relay|priveleged [flags]\n", os.Args[0])
	os.Exit(exitSetup)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	mode, args := os.Args[1], os.Args[2:]

	cfg := config.Load()

	switch mode {
	case "capture":
		fs := flag.NewFlagSet("capture", flag.ExitOnError)
		relayAddr := fs.String("relay", cfg.RelayAddr, "rendezvous relay address")
		statsAddr := fs.String("stats", cfg.StatsAddr, "prometheus listen address (empty to disable)")
		fs.Parse(args) //nolint:errcheck — ExitOnError
		cfg.RelayAddr = *relayAddr
		cfg.StatsAddr = *statsAddr

		serveStats(cfg.StatsAddr)
		c, err := NewCapturer(cfg)
		if err != nil {
			log.Printf("[capture] setup: %v", err)
			os.Exit(exitSetup)
		}
		if err := c.Run(); err != nil {
			log.Printf("[capture] %v", err)
			os.Exit(exitProtocol)
		}

	case "display":
		fs := flag.NewFlagSet("display", flag.ExitOnError)
		relayAddr := fs.String("relay", cfg.RelayAddr, "rendezvous relay address")
		volume := fs.Float64("volume", cfg.Volume, "playback volume scalar (0-2)")
		statsAddr := fs.String("stats", cfg.StatsAddr, "prometheus listen address (empty to disable)")
		fs.Parse(args) //nolint:errcheck — ExitOnError
		cfg.RelayAddr = *relayAddr
		cfg.Volume = *volume
		cfg.StatsAddr = *statsAddr

		serveStats(cfg.StatsAddr)
		d, err := NewDisplayer(cfg)
		if err != nil {
			log.Printf("[display] setup: %v", err)
			os.Exit(exitSetup)
		}
		if err := d.Run(); err != nil {
			log.Printf("[display] %v", err)
			os.Exit(exitProtocol)
		}

	case "relay":
		fs := flag.NewFlagSet("relay", flag.ExitOnError)
		udpAddr := fs.String("udp", ":42069", "UDP media listen address")
		tcpAddr := fs.String("tcp", ":42069", "TCP control listen address")
		statsAddr := fs.String("stats", cfg.StatsAddr, "prometheus listen address (empty to disable)")
		fs.Parse(args) //nolint:errcheck — ExitOnError

		serveStats(*statsAddr)
		r := &relay.Relay{UDPAddr: *udpAddr, TCPAddr: *tcpAddr}
		if err := r.Run(); err != nil {
			log.Printf("[relay] %v", err)
			os.Exit(exitSetup)
		}

	case "priveleged":
		PrivilegedEntrypoint()

	default:
		usage()
	}

	os.Exit(exitOK)
}

func serveStats(addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := stats.Serve(addr); err != nil {
			log.Printf("[stats] %v", err)
		}
	}()
}
