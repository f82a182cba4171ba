package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Cinaedin/ResourceGame/internal/config"
	"github.com/Cinaedin/ResourceGame/internal/dashboard"
	"github.com/Cinaedin/ResourceGame/internal/db"
	"github.com/Cinaedin/ResourceGame/internal/domain"
	"github.com/Cinaedin/ResourceGame/internal/engine"
	"github.com/Cinaedin/ResourceGame/internal/importer"
	"github.com/Cinaedin/ResourceGame/internal/logging"
	"github.com/Cinaedin/ResourceGame/internal/migrate"
	"github.com/Cinaedin/ResourceGame/internal/nok"
	"github.com/Cinaedin/ResourceGame/internal/scenario"
	"github.com/Cinaedin/ResourceGame/internal/server"
	"github.com/Cinaedin/ResourceGame/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "prio",
	Short: "Prioriteringsspill CLI",
	Long: `Prioriteringsspill is a facilitation exercise: participants spread the
time of a team and the flexible part of a budget over a list of tasks.
- Scenario: the tasks, people, budget lines and budget rules of one exercise.
- Session: one participant's allocations; tasks turn red, yellow or green as time and money land on them.
- Submission: the allocations stored as a playthrough plus a log row.
- Dashboard: aggregates across every submission, exportable as CSV.
Facilitators lock a scenario to freeze its content and reset it to clear submissions.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PRIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	config.BindEnv(viper.GetViper())
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "facilitator", "actor recorded on events")
	rootCmd.PersistentFlags().String("scenario", "", "scenario id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("scenario", rootCmd.PersistentFlags().Lookup("scenario"))

	rootCmd.PersistentFlags().String("db-driver", "", "database driver: sqlite or postgres (overrides config)")
	rootCmd.PersistentFlags().String("db-dsn", "", "postgres dsn (overrides config)")
	rootCmd.PersistentFlags().String("log-mode", "", "dev or prod (overrides config)")
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("log.mode", rootCmd.PersistentFlags().Lookup("log-mode"))
}

func registerCommands() {
	rootCmd.AddCommand(scenarioCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func scenarioCmd() *cobra.Command {
	sc := &cobra.Command{
		Use:   "scenario",
		Short: "Manage scenarios",
	}
	sc.AddCommand(scenarioCreateCmd())
	sc.AddCommand(scenarioListCmd())
	sc.AddCommand(scenarioShowCmd())
	sc.AddCommand(scenarioLockCmd(true))
	sc.AddCommand(scenarioLockCmd(false))
	sc.AddCommand(scenarioResetCmd())
	return sc
}

func scenarioCreateCmd() *cobra.Command {
	var id, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if title == "" {
					title = e.Config.Scenario.Title
				}
				sc, err := e.CreateScenario(ctx, id, title, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sc)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "scenario id (generated if empty)")
	cmd.Flags().StringVar(&title, "title", "", "scenario title")
	return cmd
}

func scenarioListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListScenarios(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Locked", "Created"})
				for _, sc := range items {
					tw.AppendRow(table.Row{sc.ID, sc.Title, sc.IsLocked, sc.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scenarioShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show scenario content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				snap, err := e.LoadSnapshot(ctx, sc.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap.View())
				}
				lock := "open"
				if snap.Locked() {
					lock = "locked"
				}
				fmt.Printf("Scenario: %s (%s, %s)\n", snap.Title(), snap.ID(), lock)

				tw := newTable()
				tw.SetTitle("Tasks")
				tw.AppendHeader(table.Row{"ID", "Title", "Tags"})
				for _, t := range snap.Tasks() {
					tw.AppendRow(table.Row{t.ID, t.Title, strings.Join(t.Tags, ", ")})
				}
				tw.Render()

				tw = newTable()
				tw.SetTitle("People")
				tw.AppendHeader(table.Row{"ID", "Name", "Capacity %"})
				for _, p := range snap.People() {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CapacityPct})
				}
				tw.Render()

				tw = newTable()
				tw.SetTitle("Budget")
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Amount"})
				for _, b := range snap.BudgetLines() {
					tw.AppendRow(table.Row{b.ID, b.Title, b.Type, nok.Format(b.AmountNOK)})
				}
				tw.Render()

				if rules := snap.Rules(); len(rules) > 0 {
					tw = newTable()
					tw.SetTitle("Rules")
					tw.AppendHeader(table.Row{"Budget line", "Type", "Params"})
					for _, r := range rules {
						tw.AppendRow(table.Row{r.BudgetLineID, r.RuleType, r.RuleJSON})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}

func scenarioLockCmd(lock bool) *cobra.Command {
	use, short := "lock", "Lock scenario content"
	if !lock {
		use, short = "unlock", "Unlock scenario content"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				actor := viper.GetString("actor")
				var err error
				if lock {
					sc, err = e.Lock(ctx, sc.ID, actor)
				} else {
					sc, err = e.Unlock(ctx, sc.ID, actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(sc)
			})
		},
	}
}

func scenarioResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every submission of the scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset deletes all submissions; pass --yes to confirm")
			}
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				n, err := e.Reset(ctx, sc.ID, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"scenario_id": sc.ID, "playthroughs_removed": n})
				}
				fmt.Printf("Removed %d submissions from %s\n", n, sc.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm reset")
	return cmd
}

func importCmd() *cobra.Command {
	var kind, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import scenario content from CSV",
		Long: `Import people, budgets, tasks or rules from a CSV file with a header row.
people:  name,capacity_pct
budgets: title,type,amount_nok
tasks:   task_title,tags,program
rules:   budget_title,rule_type,rule_json
Use --file - to read from stdin. A locked scenario refuses imports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := importer.ParseKind(kind)
			if err != nil {
				return err
			}
			var r io.Reader = os.Stdin
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				res, err := e.Import(ctx, sc.ID, k, r, viper.GetString("actor"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %d %s (%d skipped)\n", res.Inserted, res.Kind, res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "people, budgets, tasks or rules")
	cmd.Flags().StringVar(&file, "file", "-", "CSV file path")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show aggregated submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				s, err := e.Dashboard(ctx, sc.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Println(s.Message)
				fmt.Println(s.Funds.Text)
				fmt.Println(s.People.Text)
				printTotals("Mest tid", s.TopTime)
				printTotals("Mest handlingsrom", s.TopMoney)
				if len(s.Submissions) > 0 {
					tw := newTable()
					tw.SetTitle("Innsendinger")
					tw.AppendHeader(table.Row{"Submitted", "Name", "Time rows", "Money rows"})
					for _, sub := range s.Submissions {
						tw.AppendRow(table.Row{sub.Playthrough.SubmittedAt, sub.Playthrough.UserName, sub.TimeCount, sub.MoneyCount})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
}

func printTotals(title string, totals []dashboard.TaskTotal) {
	if len(totals) == 0 {
		return
	}
	tw := newTable()
	tw.SetTitle(title)
	tw.AppendHeader(table.Row{"Task", "Time %", "Amount"})
	for _, t := range totals {
		tw.AppendRow(table.Row{t.Title, t.TimePct, nok.Format(t.MoneyNOK)})
	}
	tw.Render()
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export per-task totals as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				s, err := e.Dashboard(ctx, sc.ID)
				if err != nil {
					return err
				}
				if out == "-" {
					return dashboard.WriteCSV(os.Stdout, s)
				}
				path := out
				if path == "" {
					path = e.ExportName()
				}
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				if err := dashboard.WriteCSV(f, s); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Println("Wrote", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path (default dashboard_aggregert_<date>.csv, - for stdout)")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				events, err := e.Repo.LatestEvents(ctx, n, sc.ID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.Actor, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in prio.yml (or prio.toml) in the workspace: scenario defaults, database driver, server, session store and logging.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	var format string
	var status bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Resolve(workspace, viper.GetViper())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			b, err := cfg.Encode(format)
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			if status {
				return printDatabaseStatus(workspace, cfg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "yaml or toml")
	cmd.Flags().BoolVar(&status, "status", false, "also print database location and schema version")
	return cmd
}

func printDatabaseStatus(workspace string, cfg *config.Config) error {
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer conn.Close()
	version, err := migrate.Version(conn)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	where := db.Path(workspace)
	if cfg.Database.Driver == db.DriverPostgres {
		where = "postgres"
	}
	fmt.Printf("# database: %s (schema version %d)\n", where, version)
	return nil
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			_, err := config.Load(workspace)
			if err == nil {
				_, err = config.Resolve(workspace, viper.GetViper())
			}
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

func configInitCmd() *cobra.Command {
	var title string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default prio.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(title)), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "Prioriteringsspill", "scenario title")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScenario(cmd.Context(), func(ctx context.Context, e engine.Engine, sc domain.Scenario) error {
				cfg := e.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				sessions := session.NewManager(func(ctx context.Context) (*scenario.Snapshot, error) {
					return e.LoadSnapshot(ctx, sc.ID)
				}, e.WithRules())
				sessions.Log = e.Log
				if cfg.Session.RedisURL != "" {
					ttl, err := cfg.SessionTTL()
					if err != nil {
						return err
					}
					client, err := session.DialRedis(ctx, cfg.Session.RedisURL)
					if err != nil {
						return err
					}
					defer client.Close()
					sessions.Persister = session.NewRedisPersister(client, ttl)
					e.Log.Info("session mirror enabled", "redis_url", cfg.Session.RedisURL, "ttl", ttl)
				}
				handler, err := server.New(server.Config{
					Engine:     e,
					ScenarioID: sc.ID,
					Sessions:   sessions,
					BasePath:   basePath,
					Metrics:    cfg.Server.Metrics,
					Log:        e.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving %s on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", sc.Title, addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Resolve(workspace, viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Log = log
	return fn(ctx, e)
}

func withScenario(ctx context.Context, fn func(context.Context, engine.Engine, domain.Scenario) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		sc, err := e.ResolveScenario(ctx, viper.GetString("scenario"), viper.GetString("actor"))
		if err != nil {
			return err
		}
		return fn(ctx, e, sc)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
