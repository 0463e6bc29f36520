// kvm-controller is the Controller-host process: it dials a Capture host
// and runs a session.ControllerSession for the connection's lifetime,
// forwarding local input once control has handed off. No video sink is
// registered, so received video frames are not decoded or displayed by
// this binary. Shape grounded on the reference agent's
// cmd/breeze-agent/main.go (cobra root+run, config.Load then
// initLogging, signal-driven graceful shutdown).
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pairkvm/kvm/internal/config"
	"github.com/pairkvm/kvm/internal/discovery"
	"github.com/pairkvm/kvm/internal/edge"
	"github.com/pairkvm/kvm/internal/logging"
	"github.com/pairkvm/kvm/internal/platform/robotgoio"
	"github.com/pairkvm/kvm/internal/session"
)

var (
	version     = "0.1.0"
	cfgFile     string
	peerAddress string
	verbose     bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "kvm-controller",
	Short: "KVM Controller host: displays a remote screen and forwards local input",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a Capture host and start a session",
	Run: func(cmd *cobra.Command, args []string) {
		runController()
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Browse for Capture hosts advertising on the LAN",
	Run: func(cmd *cobra.Command, args []string) {
		runDiscover()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvm-controller v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/kvm/kvm.yaml)")
	rootCmd.PersistentFlags().StringVar(&peerAddress, "peer", "", "Capture host address, host:port (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
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

func runController() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	cfg.Role = string(config.RoleController)
	if peerAddress != "" {
		cfg.PeerAddress = peerAddress
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting kvm-controller", "version", version, "peer", cfg.PeerAddress)

	conn, err := net.DialTimeout("tcp", cfg.PeerAddress, 10*time.Second)
	if err != nil {
		log.Error("dial failed", "error", err)
		os.Exit(1)
	}

	tap := robotgoio.NewTap()
	clip := robotgoio.NewClipboard()
	localScreen := robotgoio.NewScreenSource()
	w, h, err := localScreen.Bounds()
	if err != nil {
		log.Error("local screen bounds failed", "error", err)
		os.Exit(1)
	}
	bounds := edge.Bounds{MinX: 0, MinY: 0, MaxX: float64(w), MaxY: float64(h)}

	ctrl := session.NewControllerSession(conn, tap, clip, bounds, log)
	defer ctrl.Stop()
	ctrl.OnStateChange = func(s session.ControlState) {
		log.Info("control state changed", "state", s.String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Run(); err != nil {
			log.Warn("controller session ended", "error", err)
		}
	}()

	select {
	case <-done:
	case <-sigCh:
		log.Info("shutting down kvm-controller")
	}
}

func runDiscover() {
	logging.Init("text", "info", os.Stdout)
	log = logging.L("main")

	fmt.Println("Browsing for Capture hosts (Ctrl-C to stop)...")
	b, err := discovery.NewBrowser(log, func(peer net.IP, ann discovery.Announcement) {
		fmt.Printf("%s  %s:%d\n", ann.Name, peer, ann.Port)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer b.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
