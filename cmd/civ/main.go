package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"civicops/internal/app"
	"civicops/internal/config"
	"civicops/internal/domain"
	"civicops/internal/engine"
	"civicops/internal/engine/auth"
	"civicops/internal/jobs"
	"civicops/internal/lock"
	"civicops/internal/logging"
	"civicops/internal/repo"
	"civicops/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "civ",
	Short: "civicops assignment and verification engine",
	Long: `civicops routes citizen reports to field workers and checks that work was done on site.
- Reports: civic issues (Pothole, Water, StreetLight...) in one of 22 districts; they move pending -> assigned -> completed -> verified, or to rejected.
- Workers: staff of one department in one district, with a daily task cap reset at local midnight.
- Assignment: the scheduler ranks pending reports by density and urgency and gives each to the least loaded eligible worker.
- Completion: a worker's claim is accepted only from within the verification radius of the report.
- Event log: every state change, view with 'civ log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("CIVICOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "policy file (defaults to <workspace>/civicops.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier recorded in events")
	flags.String("roles", auth.RoleAdmin, "comma separated roles of the actor")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format (console|json)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "roles", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the policy file",
		Long:  "The policy file holds priority weights, urgency per problem type, the verification radius, caps and the reset timezone.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default civicops.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the policy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Manage citizen reports",
	}
	rep.AddCommand(reportImportCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportCompleteCmd())
	rep.AddCommand(reportVerifyCmd())
	rep.AddCommand(reportRejectCmd())
	rep.AddCommand(reportCanCmd())
	return rep
}

func reportImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Import reports from an intake file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := app.ReadIntake(args[0])
			if err != nil {
				return err
			}
			reports, err := in.ReportsAt(time.Now())
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inserted, skipped, err := app.ImportReports(ctx, e.Repo, reports)
				if err != nil {
					return err
				}
				return printJSONOrLine(map[string]int{"inserted": inserted, "skipped": skipped},
					fmt.Sprintf("imported %d reports (%d already known)", inserted, skipped))
			})
		},
	}
}

func reportListCmd() *cobra.Command {
	var status, district, workerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ReportFilter{WorkerID: workerID, Limit: limit}
			for _, raw := range strings.Split(status, ",") {
				if strings.TrimSpace(raw) == "" {
					continue
				}
				st, err := domain.ParseStatus(raw)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			if district != "" {
				d, err := domain.ParseDistrict(district)
				if err != nil {
					return err
				}
				f.District = string(d)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "District", "Status", "Priority", "Worker", "Created"})
				for _, r := range items {
					worker := ""
					if r.AssignedWorkerID != nil {
						worker = *r.AssignedWorkerID
					}
					tw.AppendRow(table.Row{r.ID, r.ProblemType, r.District, r.Status, fmt.Sprintf("%.3f", r.Priority), worker, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "comma separated status filter")
	cmd.Flags().StringVar(&district, "district", "", "district filter")
	cmd.Flags().StringVar(&workerID, "worker", "", "assigned worker (task list order)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report with its assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				history, err := e.Repo.ListAssignments(ctx, r.ID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"report": r, "assignments": history})
			})
		},
	}
}

func reportCompleteCmd() *cobra.Command {
	var workerID, photo string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Submit a completion claim on behalf of a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SubmitCompletion(ctx, engine.CompletionClaim{
					ReportID:      args[0],
					WorkerID:      workerID,
					Latitude:      lat,
					Longitude:     lon,
					ProofPhotoRef: photo,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Accepted {
					fmt.Println(color.GreenString("accepted:"), res.Message())
					return nil
				}
				fmt.Println(color.RedString("rejected:"), res.Message())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "worker id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude where the work was done")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude where the work was done")
	cmd.Flags().StringVar(&photo, "photo", "", "proof photo reference")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func reportVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Confirm a completed report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.VerifyReport(ctx, args[0], currentActor())
				if err != nil {
					return err
				}
				return printJSONOrLine(r, color.GreenString("verified ")+r.ID)
			})
		},
	}
}

func reportRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Close a report without resolution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.RejectReport(ctx, args[0], reason, currentActor())
				if err != nil {
					return err
				}
				return printJSONOrLine(r, color.YellowString("rejected ")+r.ID)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func reportCanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can <id> <status>",
		Short: "Check whether a report may move to a status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				check, err := e.CanTransition(ctx, args[0], to)
				if err != nil {
					return err
				}
				if check.Allowed {
					return printJSONOrLine(check, color.GreenString("allowed: ")+fmt.Sprintf("%s -> %s", check.From, check.To))
				}
				return printJSONOrLine(check, color.RedString("not allowed: ")+check.Reason)
			})
		},
	}
}

func workerCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "worker",
		Short: "Manage the worker registry",
	}
	w.AddCommand(workerImportCmd())
	w.AddCommand(workerListCmd())
	return w
}

func workerImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Import or refresh workers from a registry file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := app.ReadIntake(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workers, err := in.WorkersAt(time.Now(), e.Config.Assignment.DefaultDailyCap)
				if err != nil {
					return err
				}
				n, err := app.ImportWorkers(ctx, e.Repo, workers)
				if err != nil {
					return err
				}
				return printJSONOrLine(map[string]int{"upserted": n}, fmt.Sprintf("imported %d workers", n))
			})
		},
	}
}

func workerListCmd() *cobra.Command {
	var district, department string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.WorkerFilter{ActiveOnly: activeOnly}
			if district != "" {
				d, err := domain.ParseDistrict(district)
				if err != nil {
					return err
				}
				f.District = string(d)
			}
			if department != "" {
				d, err := domain.ParseDepartment(department)
				if err != nil {
					return err
				}
				f.Department = string(d)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "District", "Department", "Active", "Today", "Cap", "Lifetime"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.District, w.Department, w.Active, w.DailyTaskCount, w.DailyCap, w.LifetimeTaskCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&district, "district", "", "district filter")
	cmd.Flags().StringVar(&department, "department", "", "department filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active workers")
	return cmd
}

func assignCmd() *cobra.Command {
	a := &cobra.Command{Use: "assign", Short: "Assignment scheduler"}
	a.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one assignment pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignPending(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Report", "Worker", "Priority"})
				for _, as := range res.Assigned {
					tw.AppendRow(table.Row{as.ReportID, as.WorkerID, fmt.Sprintf("%.3f", as.Priority)})
				}
				tw.Render()
				fmt.Printf("considered %d, assigned %d, left pending %d, failed %d\n",
					res.Considered, len(res.Assigned), len(res.Unassigned), len(res.Failed))
				return nil
			})
		},
	})
	return a
}

func resetCmd() *cobra.Command {
	r := &cobra.Command{Use: "reset", Short: "Daily counter reset"}
	r.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Reset today's worker counters (no-op when already done today)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ResetDailyCounts(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrLine(res, fmt.Sprintf("reset %d workers for %s", res.Workers, res.Day))
			})
		},
	})
	return r
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every assignment, completion attempt, verification, rejection and reset is recorded here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "Development tokens"}
	var subject, roles string
	var ttl time.Duration
	tok := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with CIVICOPS_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CIVICOPS_JWT_SECRET is required")
			}
			token, err := server.SignToken(secret, subject, splitList(roles), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	tok.Flags().StringVar(&subject, "subject", "", "worker, citizen or admin id")
	tok.Flags().StringVar(&roles, "roles", auth.RoleWorker, "comma separated roles")
	tok.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	_ = tok.MarkFlagRequired("subject")
	a.AddCommand(tok)
	return a
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the assignment scheduler and daily reset",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, conn, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyHeader,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("CIVICOPS_JWT_SECRET is required for bearer auth")
			}

			var shared lock.Locker
			redisAddr := viper.GetString("redis-addr")
			if redisAddr == "" {
				redisAddr = cfg.Lock.RedisAddr
			}
			if redisAddr != "" {
				rl := lock.NewRedis(redisAddr, cfg.Lock.Key, cfg.LockTTL())
				defer rl.Close()
				if err := rl.Ping(ctx); err != nil {
					return fmt.Errorf("redis %s: %w", redisAddr, err)
				}
				shared = rl
				logger.Info("assignment ticks coordinated through redis", zap.String("addr", redisAddr))
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			scheduler := jobs.NewScheduler(e, cfg.TickInterval(), shared, logger.Named("scheduler"))
			handler, err := server.New(server.Config{
				Engine:                  e,
				Scheduler:               scheduler,
				BasePath:                basePath,
				Auth:                    authCfg,
				Logger:                  logger.Named("http"),
				CompletionRatePerMinute: cfg.API.CompletionRatePerMinute,
			})
			if err != nil {
				return err
			}
			runner := jobs.Runner{Logger: logger, Jobs: []jobs.Job{
				httpJob{srv: &http.Server{Addr: addr, Handler: handler}, logger: logger},
				scheduler,
				jobs.NewDailyReset(e, loc, logger.Named("daily-reset")),
			}}
			if d := server.NewWebhookDispatcher(e.Repo, cfg.Webhooks, logger.Named("webhooks")); d != nil {
				runner.Jobs = append(runner.Jobs, d)
			}
			logger.Info("serving civicops API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Duration("tick_interval", cfg.TickInterval()),
				zap.String("reset_timezone", loc.String()))
			return runner.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id/X-Actor-Roles without a token (development only)")
	return cmd
}

// httpJob runs the API server until the runner context ends.
type httpJob struct {
	srv    *http.Server
	logger *zap.Logger
}

func (j httpJob) Name() string { return "http" }

func (j httpJob) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- j.srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.srv.Shutdown(shutdownCtx); err != nil {
			j.logger.Warn("http shutdown", zap.Error(err))
		}
		<-errc
		return nil
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"), viper.GetString("log-format"), "civicops")
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	e, conn, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func currentActor() auth.Actor {
	return auth.Actor{ID: viper.GetString("actor-id"), Roles: splitList(viper.GetString("roles"))}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
