// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/conditions/services/conditions"
	"github.com/AleutianAI/conditions/services/conditions/alias"
	"github.com/AleutianAI/conditions/services/conditions/calorimeter"
	"github.com/AleutianAI/conditions/services/conditions/config"
	"github.com/AleutianAI/conditions/services/conditions/server"
	"github.com/AleutianAI/conditions/services/conditions/telemetry"
)

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	cacheRoot  string

	// logOut redirects logs in tests. Nil means stderr.
	logOut io.Writer
}

func (c *cli) loadConfig() (config.Config, error) {
	path := c.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.cacheRoot != "" {
		cfg.CacheRoot = c.cacheRoot
	}
	return cfg, cfg.Validate()
}

// withApp loads config, builds the app, runs fn and closes the app.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, c.logOut)
	if err != nil {
		return err
	}
	err = fn(ctx, a)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "conditions",
		Short: "Inspect and serve detector conditions",
		Long: `conditions resolves detector names to conditions sources (local
directories, zip archives, bundled detectors or remote archives) and
reads the items they contain.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.lcsim/conditions.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().StringVar(&c.cacheRoot, "cache-root", "", "override the configured cache root")

	root.AddCommand(
		newDetectorsCmd(c),
		newGetCmd(c),
		newRawCmd(c),
		newAliasCmd(c),
		newServeCmd(c),
	)
	return root
}

func newDetectorsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detectors",
		Short: "List known detector names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				names, err := a.manager.DetectorNames(ctx)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}
}

func newGetCmd(c *cli) *cobra.Command {
	var run int
	var key string
	var cached bool
	cmd := &cobra.Command{
		Use:   "get <detector> <item>",
		Short: "Print a conditions set as key = value lines",
		Long: `Print a conditions set as key = value lines.

With --cached the item is decoded as calorimeter calibration (see the
CalorimeterCalibration item of the bundled sample detector) and printed
one sampling layer range per line.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cached && key != "" {
				return errors.New("--cached and --key are mutually exclusive")
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.SetDetector(ctx, args[0], run); err != nil {
					return err
				}
				if cached {
					h, err := conditions.Cached[*calorimeter.Calibration](a.manager, args[1])
					if err != nil {
						return err
					}
					cal, err := h.Data(ctx)
					if err != nil {
						return err
					}
					fmt.Fprint(cmd.OutOrStdout(), cal.String())
					return nil
				}
				set, err := a.manager.Conditions(ctx, args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if key != "" {
					v, err := set.String(key)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, v)
					return nil
				}
				for _, k := range set.Keys() {
					v, _ := set.String(k)
					fmt.Fprintf(out, "%s = %s\n", k, v)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&run, "run", 0, "run number")
	cmd.Flags().StringVar(&key, "key", "", "print only this key's value")
	cmd.Flags().BoolVar(&cached, "cached", false, "decode the item as calorimeter calibration")
	return cmd
}

func newRawCmd(c *cli) *cobra.Command {
	var run int
	cmd := &cobra.Command{
		Use:   "raw <detector> <item>",
		Short: "Copy a raw conditions item to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.manager.SetDetector(ctx, args[0], run); err != nil {
					return err
				}
				raw, err := a.manager.RawConditions(args[1])
				if err != nil {
					return err
				}
				rc, err := raw.Open()
				if err != nil {
					return err
				}
				defer rc.Close()
				_, err = io.Copy(cmd.OutOrStdout(), rc)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&run, "run", 0, "run number")
	return cmd
}

func newAliasCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "alias <alias> <target>",
		Short: "Append a detector alias to the alias file",
		Long: `Append "alias target" to the alias file. The target may be another
detector name, an alias, or a URL such as file:///data/DetX.zip.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := alias.AppendFile(cfg.AliasPath(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], args[1])
			return nil
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conditions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry, telemetry.Options{
					ServiceName:    server.ServiceName,
					ServiceVersion: version,
				})
				if err != nil {
					return err
				}
				defer func() {
					if err := shutdown(context.Background()); err != nil {
						a.logger.Warn("telemetry shutdown failed", "error", err.Error())
					}
				}()

				gin.SetMode(gin.ReleaseMode)
				lk := conditions.NewLocked(a.manager)
				srv := &http.Server{
					Addr:              addr,
					Handler:           server.NewRouter(lk),
					ReadHeaderTimeout: 10 * time.Second,
				}
				return serve(ctx, srv, a.logger.Slog())
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("conditions server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down conditions server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
