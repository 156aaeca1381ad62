package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"techdebtsim/internal/app"
	"techdebtsim/internal/config"
	"techdebtsim/internal/constants"
	"techdebtsim/internal/db"
	"techdebtsim/internal/domain"
	"techdebtsim/internal/engine"
	"techdebtsim/internal/repo"
	"techdebtsim/internal/server"
	"techdebtsim/internal/telemetry"
)

func buildRuntime(cmd *cobra.Command, seed uint64, record bool) (*app.Runtime, error) {
	opts := app.Options{Workspace: viper.GetString("workspace"), Logger: slog.Default()}
	if cmd.Flags().Changed("seed") {
		opts.Seed = &seed
	}
	if cmd.Flags().Changed("record") {
		opts.Record = &record
	}
	return app.Build(cmd.Context(), opts)
}

func startTelemetry(ctx context.Context) (func(), error) {
	cfg, err := telemetry.LoadConfig()
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Active() {
		slog.Info("tracing enabled", "endpoint", cfg.Endpoint)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}, nil
}

func runCmd() *cobra.Command {
	var (
		steps, every int
		seed         uint64
		record       bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation headless",
		Long:  "Advances the simulation step by step without a real-time driver and prints periodic metrics. Interrupting stops after the current step.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be > 0")
			}
			ctx := cmd.Context()
			stopTelemetry, err := startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			rt, err := buildRuntime(cmd, seed, record)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.Background()); err != nil {
					slog.Warn("close runtime", "err", err)
				}
			}()

			var (
				progress []domain.Metrics
				failures int
				departed int
			)
			for i := 1; i <= steps; i++ {
				if ctx.Err() != nil {
					slog.Warn("run interrupted", "step", i-1)
					break
				}
				rep := rt.Sim.RunStep(ctx)
				if rep.ProductMetrics.Failure != nil {
					failures++
				}
				departed += len(rep.LeavingDevelopers)
				if every > 0 && (i%every == 0 || i == steps) {
					progress = append(progress, rt.Sim.Metrics())
				}
			}
			stats := rt.Sim.Statistics()
			runID := ""
			if rt.Recorder != nil {
				runID = rt.Recorder.RunID()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"run_id":     runID,
					"seed":       rt.Seed,
					"failures":   failures,
					"departures": departed,
					"current":    stats.Current,
					"summary":    stats.Summary,
				})
			}
			if len(progress) > 0 {
				renderProgress(progress)
			}
			renderSummary(stats, failures, departed, runID)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 100, "number of steps")
	cmd.Flags().IntVar(&every, "every", 10, "print metrics every N steps; 0 disables")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for a reproducible run")
	cmd.Flags().BoolVar(&record, "record", false, "record the run to the workspace database")
	return cmd
}

func renderProgress(rows []domain.Metrics) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Step", "Reputation", "Users", "Revenue", "Quality", "Failure %", "Devs", "Satisfaction", "Done"})
	for _, m := range rows {
		tw.AppendRow(table.Row{
			m.Step, m.Product.Reputation, m.Product.UserCount, m.Product.Revenue,
			m.Codebase.CodeQuality, m.Codebase.FailureProbability,
			m.Team.DeveloperCount, m.Team.AverageSatisfaction, m.Team.CompletedProjectsCount,
		})
	}
	tw.Render()
}

func renderSummary(stats domain.Statistics, failures, departed int, runID string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Summary")
	tw.AppendRow(table.Row{"Steps", stats.Current.Step})
	tw.AppendRow(table.Row{"Failures", failures})
	tw.AppendRow(table.Row{"Developers left", departed})
	if s := stats.Summary; s != nil {
		tw.AppendRow(table.Row{"Avg reputation", domain.Round(s.AverageReputation, 2)})
		tw.AppendRow(table.Row{"User growth / step", domain.Round(s.UserGrowthRate, 2)})
		tw.AppendRow(table.Row{"Avg code quality", domain.Round(s.AverageCodeQuality, 2)})
		tw.AppendRow(table.Row{"Avg satisfaction", domain.Round(s.AverageSatisfaction, 2)})
		tw.AppendRow(table.Row{"Total revenue", domain.Round(s.TotalRevenue, 0)})
	}
	if runID != "" {
		tw.AppendRow(table.Row{"Run", runID})
	}
	tw.Render()
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		seed           uint64
		record         bool
		autostart      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stopTelemetry, err := startTelemetry(ctx)
			if err != nil {
				return err
			}
			defer stopTelemetry()
			rt, err := buildRuntime(cmd, seed, record)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(context.Background()); err != nil {
					slog.Warn("close runtime", "err", err)
				}
			}()
			if !cmd.Flags().Changed("addr") && rt.Config.Server.Addr != "" {
				addr = rt.Config.Server.Addr
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = rt.Config.Server.JWTSecret
			}

			runs, closeRuns, err := historyRepo(ctx, rt)
			if err != nil {
				return err
			}
			defer closeRuns()

			hub := server.NewHub(slog.Default())
			go hub.Run(ctx)
			handler, err := server.New(server.Config{
				Sim:      rt.Sim,
				Runs:     runs,
				Hub:      hub,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret},
				Logger:   slog.Default(),
			})
			if err != nil {
				return err
			}
			if autostart {
				rt.Sim.Start()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			slog.Info("serving API", "url", "http://"+addr+basePath, "docs", basePath+"/docs", "auth", secret != "")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret guarding mutating routes")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	cmd.Flags().BoolVar(&record, "record", false, "record the session to the workspace database")
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start the real-time driver immediately")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// historyRepo reuses the recorder's database or opens an existing one so
// past runs stay browsable.
func historyRepo(ctx context.Context, rt *app.Runtime) (*repo.Repo, func(), error) {
	if rt.DB != nil {
		return &repo.Repo{DB: rt.DB}, func() {}, nil
	}
	workspace := viper.GetString("workspace")
	if _, err := os.Stat(db.Path(workspace)); err != nil {
		return nil, func() {}, nil
	}
	conn, err := app.OpenDB(ctx, workspace)
	if err != nil {
		return nil, nil, err
	}
	return &repo.Repo{DB: conn}, func() { conn.Close() }, nil
}

func constantsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "constants",
		Short: "Inspect and export tuning constants",
	}
	c.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "Print built-in defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConstants(engine.New(engine.Options{}).Constants())
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print constants after applying the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := effectiveConstants()
			if err != nil {
				return err
			}
			return printConstants(values)
		},
	})
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write effective constants to a json, yaml or toml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := effectiveConstants()
			if err != nil {
				return err
			}
			data, err := constants.Encode(filepath.Ext(out), values)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %d constants to %s\n", len(values), out)
			return nil
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "constants.json", "output file")
	c.AddCommand(export)
	return c
}

func effectiveConstants() (map[string]float64, error) {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	store := constants.New()
	if err := cfg.ApplyConstants(workspace, store); err != nil {
		return nil, err
	}
	// Building a simulation registers defaults under the overrides.
	return engine.New(engine.Options{Settings: cfg.Settings(), Constants: store}).Constants(), nil
}

func printConstants(values map[string]float64) error {
	if viper.GetBool("json") {
		return printJSON(values)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Key", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, strconv.FormatFloat(values[k], 'g', -1, 64)})
	}
	tw.Render()
	return nil
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			token, err := server.IssueToken(secret, subject, ttl, "operator")
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	return cmd
}
