// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command pernetd hosts the per-namespace control surface and serves the
// operator API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"grimm.is/pernet/internal/api"
	"grimm.is/pernet/internal/config"
	"grimm.is/pernet/internal/errors"
	"grimm.is/pernet/internal/logging"
	"grimm.is/pernet/internal/memacct"
	"grimm.is/pernet/internal/metrics"
	"grimm.is/pernet/internal/mptcp"
	"grimm.is/pernet/internal/netns"
	"grimm.is/pernet/internal/sysctl"
)

func main() {
	configFile := flag.String("config", "", "configuration file (.hcl, .json or .yaml)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as HCL and exit")
	writeConfig := flag.String("write-config", "", "write the effective configuration to `path` and exit")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pernetd: %v\n", err)
		os.Exit(2)
	}

	if *printConfig {
		out, err := config.MarshalHCL(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pernetd: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}
	if *writeConfig != "" {
		if err := config.SaveFile(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "pernetd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		logging.Error("pernetd failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFile(path)
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	if cfg.Log != nil {
		// Validate has already rejected unknown levels.
		if lvl, err := logging.ParseLevel(cfg.Log.Level); err == nil {
			lc.Level = lvl
		}
		lc.JSON = cfg.Log.JSON
	}
	return logging.New(lc)
}

// daemon holds the wired components of a running pernetd.
type daemon struct {
	subsys  *netns.Subsystem
	surface *sysctl.Surface
	ctrl    *mptcp.Controller
	stack   *mptcp.Stack
	metrics *metrics.Registry
	logger  *logging.Logger
}

// boot wires every component and brings the multipath subsystem up.
func boot(cfg *config.Config, logger *logging.Logger, reg *metrics.Registry) (*daemon, error) {
	var limit int64
	if cfg.Memory != nil {
		limit = cfg.Memory.LimitBytes
	}
	var maxTables int
	if cfg.Sysctl != nil {
		maxTables = cfg.Sysctl.MaxTables
	}

	d := &daemon{metrics: reg, logger: logger}
	d.surface = sysctl.NewSurface(sysctl.Options{MaxTables: maxTables, Logger: logger, Metrics: reg})
	d.subsys = netns.New(netns.Options{
		HostID:     netns.HostIdentity(),
		Accountant: memacct.New(limit),
		Logger:     logger,
		Metrics:    reg,
	})
	d.ctrl = mptcp.NewController(mptcp.Options{
		Subsystem:            d.subsys,
		Surface:              d.surface,
		ShareDefaultTemplate: cfg.ShareDefaultTemplate(),
		Logger:               logger,
		Metrics:              reg,
	})
	d.stack = mptcp.NewStack(logger)

	if err := d.ctrl.Init(d.stack); err != nil {
		return nil, err
	}
	if cfg.IPv6() {
		if err := d.ctrl.InitV6(d.stack); err != nil {
			logger.Warn("IPv6 multipath unavailable", "error", err)
		}
	}
	if err := d.precreate(cfg.Namespaces); err != nil {
		d.subsys.Shutdown()
		return nil, err
	}
	return d, nil
}

// precreate creates the configured namespaces and applies their overrides.
func (d *daemon) precreate(list []config.NamespaceConfig) error {
	for _, nc := range list {
		ns, err := d.subsys.Create(nc.Name)
		if err != nil {
			return errors.Wrapf(err, errors.GetKind(err), "pre-creating namespace %q", nc.Name)
		}
		if nc.Enabled == nil {
			continue
		}
		v := "0"
		if *nc.Enabled {
			v = "1"
		}
		path := mptcp.SysctlPath + "/" + mptcp.EnabledEntry
		if err := d.surface.Write(ns.ID(), path, v, sysctl.Root); err != nil {
			return errors.Wrapf(err, errors.GetKind(err), "configuring namespace %q", nc.Name)
		}
		d.logger.Info("namespace configured", "namespace", ns, "enabled", *nc.Enabled)
	}
	return nil
}

func run(cfg *config.Config) error {
	logger := newLogger(cfg)
	logging.SetDefault(logger)

	d, err := boot(cfg, logger, metrics.Get())
	if err != nil {
		return err
	}

	server := api.NewServer(api.ServerOptions{
		Subsystem:  d.subsys,
		Surface:    d.surface,
		Controller: d.ctrl,
		Stack:      d.stack,
		Metrics:    d.metrics,
		Logger:     logger,
		AdminToken: cfg.API.AdminToken,
	})

	listeners, err := listen(cfg.API)
	if err != nil {
		d.subsys.Shutdown()
		return err
	}

	errCh := make(chan error, len(listeners))
	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			if err := server.Serve(l); err != nil {
				errCh <- err
			}
		}(l)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("listener failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("API shutdown incomplete", "error", err)
	}
	wg.Wait()
	if cfg.API.Socket != "" {
		os.Remove(cfg.API.Socket)
	}

	if err := d.subsys.Shutdown(); err != nil {
		logger.Error("namespace teardown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("stopped")
	return runErr
}

// listen opens the configured API listeners.
func listen(cfg *config.APIConfig) ([]net.Listener, error) {
	var out []net.Listener
	closeAll := func() {
		for _, l := range out {
			l.Close()
		}
	}

	if cfg.Listen != "" {
		l, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindUnavailable, "listening on %s", cfg.Listen)
		}
		out = append(out, l)
	}

	if cfg.Socket != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Socket), 0o755); err != nil {
			closeAll()
			return nil, errors.Wrap(err, errors.KindUnavailable, "creating socket directory")
		}
		// A stale socket from an unclean exit blocks the bind.
		if err := os.Remove(cfg.Socket); err != nil && !os.IsNotExist(err) {
			closeAll()
			return nil, errors.Wrap(err, errors.KindUnavailable, "removing stale socket")
		}
		l, err := net.Listen("unix", cfg.Socket)
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, errors.KindUnavailable, "listening on %s", cfg.Socket)
		}
		if err := os.Chmod(cfg.Socket, 0o660); err != nil {
			l.Close()
			closeAll()
			return nil, errors.Wrap(err, errors.KindUnavailable, "setting socket permissions")
		}
		out = append(out, l)
	}

	if len(out) == 0 {
		return nil, errors.New(errors.KindValidation, "no API listener configured")
	}
	return out, nil
}
