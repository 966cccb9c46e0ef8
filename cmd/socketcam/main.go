// Command socketcam runs the dual-camera acquisition core: it loads
// configuration and LUTs, opens the control-plane socket, and wires the
// acquisition, accumulation, and persistence layers together per
// spec.md §4 until it receives a quit command or a termination signal.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ncar-hao/kcor-socketcam/internal/board"
	"github.com/ncar-hao/kcor-socketcam/internal/config"
	"github.com/ncar-hao/kcor-socketcam/internal/control"
	"github.com/ncar-hao/kcor-socketcam/internal/logging"
	"github.com/ncar-hao/kcor-socketcam/internal/lut"
	"github.com/ncar-hao/kcor-socketcam/internal/persist"
	"github.com/ncar-hao/kcor-socketcam/internal/socketserv"
)

func main() {
	configPath := flag.String("config", "socketcam.yaml", "path to the service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "socketcam: load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Open(cfg.Paths.LogDir, logging.Info)
	if err != nil {
		fmt.Fprintf(os.Stderr, "socketcam: open log: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Infof("socketcam starting, pid=%d", os.Getpid())

	luts := lut.NewSet()
	if cfg.Paths.LutConfigPath != "" {
		warnings, err := lut.LoadINI(cfg.Paths.LutConfigPath, luts)
		if err != nil {
			logger.Errorf("lut: load %s: %v", cfg.Paths.LutConfigPath, err)
		}
		for _, w := range warnings {
			logger.Warnf("lut: %v", w)
		}
	}

	boards := [2]board.Board{board.NewSimulated(0), board.NewSimulated(1)}

	format := persist.Width16
	if cfg.Output.Width == 32 {
		format = persist.Width32
	}

	quit := make(chan struct{})
	var quitOnce func()

	server := socketserv.NewServer(
		fmt.Sprintf(":%d", cfg.Server.Port),
		cfg.Server.MessageBytes,
		nil, // dispatcher set below, after the machine exists
		func() {
			if quitOnce != nil {
				quitOnce()
			}
		},
		logger,
	)

	machine := control.NewMachine(boards, luts, cfg.Paths.DataRoot, format, server.Conn, logger)
	server.Dispatcher = machine

	quitOnce = sync.OnceFunc(func() { close(quit) })

	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Errorf("socketserv: %v", err)
		}
	}()
	logger.Infof("listening on port %d", cfg.Server.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("received signal %v, shutting down", sig)
	case <-quit:
		logger.Infof("quit command received, shutting down")
	}

	server.Close() //nolint:errcheck

	// Machine.Shutdown applies spec.md §5's 3-second grace delay itself,
	// waiting for workers to drain before it closes the boards.
	machine.Shutdown()

	logger.Infof("socketcam stopped")
}
