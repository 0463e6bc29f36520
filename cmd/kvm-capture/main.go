// kvm-capture is the Capture-host process: it listens for exactly one
// Controller connection (§1 "exactly one Controller connects to one
// Capture at a time"), then runs a session.CaptureSession for the
// connection's lifetime. Shape (cobra root+run, config.Load then
// initLogging, signal-driven graceful shutdown) is grounded on the
// reference agent's cmd/breeze-agent/main.go.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pairkvm/kvm/internal/config"
	"github.com/pairkvm/kvm/internal/discovery"
	"github.com/pairkvm/kvm/internal/logging"
	"github.com/pairkvm/kvm/internal/platform/openh264enc"
	"github.com/pairkvm/kvm/internal/platform/robotgoio"
	"github.com/pairkvm/kvm/internal/session"
)

var (
	version = "0.1.0"
	cfgFile string
	port    int
	verbose bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "kvm-capture",
	Short: "KVM Capture host: shares this machine's screen and accepts remote input",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for a Controller and run capture sessions",
	Run: func(cmd *cobra.Command, args []string) {
		runCapture()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvm-capture v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/kvm/kvm.yaml)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "TCP port to listen on (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logging.Init(cfg.LogFormat, level, output)
	log = logging.L("main")
}

func runCapture() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	cfg.Role = string(config.RoleCapture)
	if port != 0 {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting kvm-capture", "version", version, "port", cfg.Port)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Error("listen failed", "error", err)
		os.Exit(1)
	}
	defer ln.Close()

	adv, err := discovery.NewAdvertiser(discovery.Announcement{Name: hostname(), Port: cfg.Port}, 0, log)
	if err != nil {
		log.Warn("discovery advertiser disabled", "error", err)
	} else {
		defer adv.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	connCh := make(chan net.Conn)
	go acceptLoop(ln, connCh)

	for {
		select {
		case <-sigCh:
			log.Info("shutting down kvm-capture")
			return
		case conn, ok := <-connCh:
			if !ok {
				return
			}
			if serveOneSession(cfg, conn, sigCh) {
				log.Info("shutting down kvm-capture")
				return
			}
		}
	}
}

func acceptLoop(ln net.Listener, out chan<- net.Conn) {
	defer close(out)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		out <- conn
	}
}

// serveOneSession runs a single Capture session to completion, blocking
// until it ends (peer disconnect, error, or a shutdown signal). A new
// accepted connection always supersedes a finished session (§3
// "Lifecycle"). It reports whether it returned because of a shutdown
// signal.
func serveOneSession(cfg *config.Config, conn net.Conn, sigCh <-chan os.Signal) bool {
	log.Info("controller connected", "remote", conn.RemoteAddr())

	screen := robotgoio.NewScreenSource()
	w, h, err := screen.Bounds()
	if err != nil {
		log.Error("screen bounds failed", "error", err)
		conn.Close()
		return false
	}
	encoder, err := openh264enc.New(w, h, 4000)
	if err != nil {
		log.Error("encoder init failed", "error", err)
		conn.Close()
		return false
	}
	sink := robotgoio.NewSink()
	clip := robotgoio.NewClipboard()

	cs := session.NewCaptureSession(conn, screen, encoder, sink, clip, nil, log)
	defer cs.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cs.Run(); err != nil {
			log.Warn("capture session ended", "error", err)
		}
	}()

	select {
	case <-done:
		return false
	case <-sigCh:
		return true
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "kvm-capture"
	}
	return h
}
