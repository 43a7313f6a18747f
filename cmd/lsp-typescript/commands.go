package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/dshills/lsp-typescript/internal/config"
	"github.com/dshills/lsp-typescript/internal/metrics"
	"github.com/dshills/lsp-typescript/internal/node"
	"github.com/dshills/lsp-typescript/internal/proxy"
	"github.com/dshills/lsp-typescript/internal/typescript"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Relay LSP over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	loader, cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	log := commonlog.GetLogger("lsp-typescript")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := node.Check(ctx, cfg.Command, cfg.MinimumNodeVersion)
	if err != nil {
		return err
	}
	server, err := typescript.ServerConfig(cfg, rt.Path)
	if err != nil {
		return err
	}
	log.Infof("node %s at %s", rt.Version, rt.Path)

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Serve(ctx, cfg.Metrics.Addr, m)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	reload := make(chan *config.Config, 1)
	loader.Watch(forwardReload(reload, log.Warningf))

	err = proxy.Serve(ctx, os.Stdin, os.Stdout, proxy.Options{
		Server:  server,
		Config:  cfg,
		Metrics: m,
		Reload:  reload,
	})
	if errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func checkCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify Node.js and the language server installation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			setupLogging(cfg)

			out := cmd.OutOrStdout()
			rt, err := node.Check(cmd.Context(), cfg.Command, cfg.MinimumNodeVersion)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "node:   %s (%s)\n", rt.Path, rt.Version)

			server, err := typescript.ServerConfig(cfg, rt.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "server: %s\n", server.Args[0])
			return nil
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			data, err := cfg.Render(format)
			if err != nil {
				return err
			}
			if file := loader.ConfigFileUsed(); file != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# from %s\n", file)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml, toml or json")
	return cmd
}

// forwardReload passes reloaded configurations to reload, keeping only the
// newest pending one. A failed reload is reported through warn.
func forwardReload(reload chan *config.Config, warn func(format string, values ...any)) func(*config.Config, error) {
	return func(next *config.Config, err error) {
		if err != nil {
			warn("keeping previous configuration: %s", err)
			return
		}
		select {
		case <-reload:
		default:
		}
		reload <- next
	}
}
