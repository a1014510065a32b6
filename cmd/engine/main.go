package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rawblock/riemann-engine/internal/api"
	"github.com/rawblock/riemann-engine/internal/db"
	"github.com/rawblock/riemann-engine/internal/generator"
	"github.com/rawblock/riemann-engine/internal/janitor"
	"github.com/rawblock/riemann-engine/internal/processor"
	"github.com/rawblock/riemann-engine/internal/search"
)

var (
	databaseURL  string
	strategyName string
)

func main() {
	root := &cobra.Command{
		Use:           "engine",
		Short:         "Distributed search for counterexamples to Robin's criterion",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "",
		"PostgreSQL connection string (falls back to DATABASE_URL)")

	root.AddCommand(initdbCmd(), generateCmd(), processCmd(), cleanupCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not
// set. Credentials have no fallback defaults.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a default for non-secret
// settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// resolveDatabaseURL prefers the flag and falls back to the environment.
func resolveDatabaseURL() string {
	if databaseURL != "" {
		return databaseURL
	}
	return requireEnv("DATABASE_URL")
}

// signalContext is cancelled on SIGINT/SIGTERM so every loop shuts down
// cleanly with exit code 0.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connectStore(ctx context.Context, opts ...db.PostgresOption) (*db.PostgresStore, error) {
	return db.Connect(ctx, resolveDatabaseURL(), opts...)
}

func initdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create tables and enum types, idempotently",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			store, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.InitializeSchema(ctx)
		},
	}
}

func addStrategyFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&strategyName, "strategy", search.SuperabundantStrategyName,
		fmt.Sprintf("search strategy: %s or %s",
			search.ExhaustiveStrategyName, search.SuperabundantStrategyName))
}

func generateCmd() *cobra.Command {
	var (
		blockSize            int
		refreshCount         int
		refreshThreshold     int
		refreshPeriodSeconds int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Keep the backlog of claimable search blocks topped up",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			strategy, err := search.ByName(strategyName)
			if err != nil {
				return err
			}
			store, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			g := generator.New(store, strategy, generator.Config{
				BlockSize:        blockSize,
				RefreshCount:     refreshCount,
				RefreshThreshold: refreshThreshold,
				RefreshPeriod:    time.Duration(refreshPeriodSeconds) * time.Second,
			})
			return g.Run(ctx)
		},
	}
	addStrategyFlag(cmd)
	cmd.Flags().IntVar(&blockSize, "block-size", 250000, "candidates per search block")
	cmd.Flags().IntVar(&refreshCount, "refresh-count", 100, "blocks to generate per refill")
	cmd.Flags().IntVar(&refreshThreshold, "refresh-threshold", 100, "refill when fewer eligible blocks remain")
	cmd.Flags().IntVar(&refreshPeriodSeconds, "refresh-period-seconds", 30, "seconds between backlog checks")
	return cmd
}

func processCmd() *cobra.Command {
	var witnessThreshold float64
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Claim search blocks, compute divisor sums, finish blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			strategy, err := search.ByName(strategyName)
			if err != nil {
				return err
			}
			store, err := connectStore(ctx, db.WithWitnessThreshold(witnessThreshold))
			if err != nil {
				return err
			}
			defer store.Close()

			return processor.New(store, strategy).Run(ctx)
		},
	}
	addStrategyFlag(cmd)
	cmd.Flags().Float64Var(&witnessThreshold, "witness-threshold", db.DefaultWitnessThreshold,
		"persist only records with witness value above this (0 persists everything)")
	return cmd
}

func cleanupCmd() *cobra.Command {
	var (
		refreshPeriodSeconds int
		staleThresholdHours  int
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Revert stale in-progress blocks to failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			store, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			j := janitor.New(store, janitor.Config{
				SweepPeriod:       time.Duration(refreshPeriodSeconds) * time.Second,
				StalenessDuration: time.Duration(staleThresholdHours) * time.Hour,
			})
			return j.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&refreshPeriodSeconds, "refresh-period-seconds", 900, "seconds between staleness sweeps")
	cmd.Flags().IntVar(&staleThresholdHours, "stale-threshold-hours", 2, "hours before an in-progress block is stale")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		port              string
		pollPeriodSeconds int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the read-only monitoring API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			store, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			hub := api.NewStreamHub()
			go hub.Run()
			go api.NewMonitor(store, hub, time.Duration(pollPeriodSeconds)*time.Second).Run(ctx)

			r := api.SetupRouter(store, hub)
			srv := &http.Server{Addr: ":" + port, Handler: r}
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()
			log.Printf("[Serve] Monitoring API listening on :%s", port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", getEnvOrDefault("PORT", "5339"), "HTTP listen port")
	cmd.Flags().IntVar(&pollPeriodSeconds, "poll-period-seconds", 30, "seconds between summary polls")
	return cmd
}
