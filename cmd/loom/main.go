// Copyright 2026 Loom ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package main provides the Loom runtime CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loom-ml/loom/backend/cpu"
	"github.com/loom-ml/loom/dispatch"
	"github.com/loom-ml/loom/internal/manifest"
)

const version = "v0.1.0-dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - pluggable tensor runtime",
		Long:  "Loom dispatch tooling: inspect and validate the operator registry.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Optional .env for local overrides (LOOM_LOG=debug etc).
			_ = godotenv.Load()
			level := slog.LevelWarn
			if verbose || strings.EqualFold(os.Getenv("LOOM_LOG"), "debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newOpsCommand())
	cmd.AddCommand(newCheckCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// buildRegistry assembles a standalone dispatcher from an optional manifest
// plus the built-in CPU kernels.
func buildRegistry(manifestPath string) (*dispatch.Dispatcher, error) {
	d := dispatch.New()
	if manifestPath != "" {
		f, err := manifest.LoadFile(manifestPath)
		if err != nil {
			return nil, err
		}
		if _, err := manifest.Register(d, f); err != nil {
			return nil, err
		}
	}
	if _, err := cpu.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

func newOpsCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List registered operators and their backend coverage",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildRegistry(manifestPath)
			if err != nil {
				return err
			}
			d.Operators(func(op dispatch.OperatorHandle) {
				coverage := make([]string, 0, 4)
				for _, k := range op.SupportedKeys() {
					coverage = append(coverage, k.String())
				}
				if op.HasCatchAll() {
					coverage = append(coverage, "CatchAll")
				}
				schema := "-"
				if op.HasSchema() {
					schema = op.Schema().String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-20s %s\n",
					op.Name(), strings.Join(coverage, ","), schema)
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "operator manifest to load")
	return cmd
}

func newCheckCommand() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate registry invariants after loading a manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildRegistry(manifestPath)
			if err != nil {
				return err
			}
			if err := d.CheckInvariants(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d operators\n", d.NumOperators())
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "operator manifest to load")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Loom %s\n", version)
		},
	}
}
