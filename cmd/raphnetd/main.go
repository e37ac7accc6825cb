// SPDX-License-Identifier: GPL-3.0-or-later

// Command raphnetd runs a configured net/server topology, reloading it
// whenever the configuration changes.
//
// Grounded on gravitational-teleport's real dependency on
// github.com/spf13/cobra + github.com/spf13/pflag for CLI surface, and on
// original_source/src/main.rs's panic-hook-then-exit contract (translated
// to Go's idiom: a top-level recover for a clean exit code and a
// structured log line, since an unrecovered Go panic already unwinds the
// whole process on its own).
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bassosimone/raphnet/config"
	"github.com/bassosimone/raphnet/controller"
	"github.com/bassosimone/raphnet/internal/apiserver"
	"github.com/spf13/cobra"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("raphnetd: panic", slog.Any("recovered", r))
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath  string
	writeConfig string
	bind        string
	accessToken string
	webUI       bool
	logLevel    string
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:   "raphnetd",
		Short: "Run a configured net/server topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	bindFlags(root, flags)

	root.AddCommand(newGenerateSchemaCommand())
	root.AddCommand(newServerCommand(flags))

	return root
}

func bindFlags(cmd *cobra.Command, flags *cliFlags) {
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", envOrDefault("RD_CONFIG", "config.yaml"), "path to the configuration document")
	cmd.Flags().StringVar(&flags.writeConfig, "write-config", "", "parse the config and write it back out, then exit")
	cmd.Flags().StringVar(&flags.bind, "bind", envOrDefault("RD_BIND", ""), "address for the control-plane API server (empty disables it)")
	cmd.Flags().StringVar(&flags.accessToken, "access-token", os.Getenv("RD_ACCESS_TOKEN"), "bearer token required by the control-plane API server")
	cmd.Flags().BoolVar(&flags.webUI, "web-ui", os.Getenv("RD_WEB_UI") != "", "reserved for a future bundled web UI (unimplemented)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", envOrDefault("RD_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newServerCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the control plane only, with no topology until a config arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	bindFlags(cmd, flags)
	return cmd
}

func newGenerateSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-schema [PATH]",
		Short: "Emit the configuration document's JSON Schema",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.Schema()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(schema)
				return err
			}
			return os.WriteFile(args[0], schema, 0o644)
		},
	}
}

func runServe(ctx context.Context, flags *cliFlags) error {
	setupLogging(flags.logLevel)

	if flags.writeConfig != "" {
		return writeConfigRoundTrip(flags.configPath, flags.writeConfig)
	}

	logger := slog.Default()
	reg := newRegistry(logger, &tls.Config{})
	ctrl := controller.New(topologyBuilder{reg: reg})

	if flags.bind != "" {
		mux := http.NewServeMux()
		apiserver.Mount(mux, ctrl, flags.accessToken)
		srv := &http.Server{Addr: flags.bind, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("raphnetd: API server stopped", slog.String("err", err.Error()))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	if _, err := os.Stat(flags.configPath); err != nil {
		slog.Info("raphnetd: no config yet, running control plane only", slog.String("path", flags.configPath))
		<-ctx.Done()
		return ctx.Err()
	}

	docs, err := config.Stream(ctx, config.NewPathImportSource(flags.configPath))
	if err != nil {
		return fmt.Errorf("raphnetd: starting config stream: %w", err)
	}

	cfgStream := make(chan any)
	go func() {
		defer close(cfgStream)
		for doc := range docs {
			select {
			case cfgStream <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctrl.RunStream(ctx, cfgStream)
}

func writeConfigRoundTrip(inputPath, outputPath string) error {
	content, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("raphnetd: reading %q: %w", inputPath, err)
	}
	doc, err := config.Parse(content)
	if err != nil {
		return err
	}
	out, err := config.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, out, 0o644)
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
