package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"meshchain/core"
	"meshchain/internal/control"
	"meshchain/internal/metrics"
	"meshchain/pkg/config"
	"meshchain/sensor/sim"
	"meshchain/transport/udp"
)

var (
	cfgPath      string
	listenAddr   string
	broadcastAdr string
	macFlag      string
	levelFlag    uint8
)

func main() {
	rootCmd := &cobra.Command{Use: "meshnode"}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(ledgerCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the round engine and receive dispatcher for this node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:9191", "UDP address this node listens on")
	cmd.Flags().StringVar(&broadcastAdr, "broadcast", "127.0.0.1:9192", "UDP broadcast address for this mesh")
	cmd.Flags().StringVar(&macFlag, "mac", "", "this node's MAC, e.g. 02:00:00:00:00:01")
	cmd.Flags().Uint8Var(&levelFlag, "level", 0, "this node's static hop level from the mesh root")
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "talk to a running node's control channel"}
	cmd.PersistentFlags().String("socket", "/tmp/meshchain.sock", "control socket address")

	read := &cobra.Command{
		Use:   "read",
		Short: "print the running node's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, _ := cmd.Flags().GetString("socket")
			return sendControlCommand(sock, "READ_LEDGER")
		},
	}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "reset the running node's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			sock, _ := cmd.Flags().GetString("socket")
			return sendControlCommand(sock, "RESET_BLOCKCHAIN")
		},
	}
	cmd.AddCommand(read, reset)
	return cmd
}

func sendControlCommand(sock, command string) error {
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := fmt.Fprintln(conn, command); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return err
	}
	fmt.Print(string(buf[:n]))
	return nil
}

func runNode() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := logrus.New()
	lvl, err := logrus.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	ownMAC, err := core.ParseMAC(macFlag)
	if err != nil {
		return fmt.Errorf("parse --mac: %w", err)
	}

	reg := metrics.New()
	ledger := core.NewLedger(logger)
	leader := &core.LeaderCell{}
	sensorQueue := core.NewSensorResponseQueue()
	electionQueue := core.NewElectionQueue()

	transport, err := udp.New(listenAddr, broadcastAdr, ownMAC, levelFlag, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	sensorSrc := sim.New(time.Now().UnixNano(), 21.0, 45.0)

	dispatcher := core.NewDispatcher(ledger, transport, sensorSrc, sensorQueue, electionQueue, leader, logger, reg)
	transport.OnRecv(dispatcher.HandleDatagram)

	round, pulseTimeout, electionWait, discoveryWait, broadcastPropagation, emptyMeshRetry := cfg.RoundTimings()
	timings := core.Timings{
		Round:                round,
		PulseTimeout:         pulseTimeout,
		ElectionWait:         electionWait,
		DiscoveryWait:        discoveryWait,
		BroadcastPropagation: broadcastPropagation,
		EmptyMeshRetry:       emptyMeshRetry,
	}

	engine := core.NewEngine(ledger, transport, sensorSrc, sensorQueue, electionQueue, leader, timings, logger, reg)

	var controlServer *control.Server
	if cfg.Node.ControlSocket != "" {
		os.Remove(cfg.Node.ControlSocket)
		listener, err := net.Listen("unix", cfg.Node.ControlSocket)
		if err != nil {
			logger.WithError(err).Warn("run: control socket unavailable, continuing without it")
		} else {
			controlServer = control.New(listener, ledger, logger)
			go func() {
				if err := controlServer.Serve(); err != nil {
					logger.WithError(err).Debug("run: control server stopped")
				}
			}()
		}
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Debug("run: metrics server stopped")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("run: shutting down")
		cancel()
	}()

	engine.Run(ctx)
	if controlServer != nil {
		controlServer.Close()
	}
	return nil
}
