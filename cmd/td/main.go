package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdeck/internal/config"
	"taskdeck/internal/db"
	"taskdeck/internal/engine"
	"taskdeck/internal/migrate"
	"taskdeck/internal/query"
	"taskdeck/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Taskdeck CLI",
	Long: `Taskdeck tracks actors and the work items assigned to them.
Every task caches its assignee's display name and every actor caches the
ids of its open tasks; mutations through the API or this CLI keep the two
views consistent, and 'td repair' reconciles them from scratch.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		_, err := db.EnsureWorkspace(workspace)
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Taskdeck API on http://%s%s (Swagger UI at /docs)\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// listFlags mirror the HTTP list query parameters.
type listFlags struct {
	where  string
	sort   string
	sel    string
	skip   string
	limit  string
	count  bool
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.where, "where", "", "JSON predicate")
	cmd.Flags().StringVar(&f.sort, "sort", "", "JSON ordering, field to 1/-1")
	cmd.Flags().StringVar(&f.sel, "select", "", "JSON projection, field to 1/0")
	cmd.Flags().StringVar(&f.skip, "skip", "", "records to skip")
	cmd.Flags().StringVar(&f.limit, "limit", "", "max records, 0 for unlimited")
	cmd.Flags().BoolVar(&f.count, "count", false, "print the match count only")
}

func (f *listFlags) decode(defaultLimit uint64) (query.Spec, error) {
	count := ""
	if f.count {
		count = "true"
	}
	return query.Decode(query.Params{
		Where: f.where, Sort: f.sort, Select: f.sel,
		Skip: f.skip, Limit: f.limit, Count: count,
	}, defaultLimit)
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors",
	}
	cmd.AddCommand(actorListCmd())
	cmd.AddCommand(actorGetCmd())
	cmd.AddCommand(actorCreateCmd())
	cmd.AddCommand(actorUpdateCmd())
	cmd.AddCommand(actorDeleteCmd())
	return cmd
}

func actorListCmd() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := flags.decode(e.Config.Query.ActorLimit)
				if err != nil {
					return err
				}
				if spec.Count {
					n, err := e.CountActors(ctx, spec.Where)
					if err != nil {
						return err
					}
					fmt.Println(n)
					return nil
				}
				actors, err := e.ListActors(ctx, spec)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Pending"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Email, len(a.PendingTasks)})
				}
				tw.Render()
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func actorGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetActor(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
}

func actorCreateCmd() *cobra.Command {
	var name, email string
	var pending []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateActor(ctx, engine.ActorWrite{
					Name: name, Email: email,
					PendingTasks: pending,
					PendingSet:   cmd.Flags().Changed("pending"),
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email, unique")
	cmd.Flags().StringSliceVar(&pending, "pending", nil, "initial pending task ids")
	return cmd
}

func actorUpdateCmd() *cobra.Command {
	var name, email string
	var pending []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ReplaceActor(ctx, args[0], engine.ActorWrite{
					Name: name, Email: email,
					PendingTasks: pending,
					PendingSet:   cmd.Flags().Changed("pending"),
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email, unique")
	cmd.Flags().StringSliceVar(&pending, "pending", nil, "replacement pending task ids")
	return cmd
}

func actorDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an actor and release its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteActor(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskCompleteCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				spec, err := flags.decode(e.Config.Query.TaskLimit)
				if err != nil {
					return err
				}
				if spec.Count {
					n, err := e.CountTasks(ctx, spec.Where)
					if err != nil {
						return err
					}
					fmt.Println(n)
					return nil
				}
				tasks, err := e.ListTasks(ctx, spec)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Deadline", "Done", "Assignee"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Deadline, t.Completed, t.AssignedActorName})
				}
				tw.Render()
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskWriteFlags(cmd *cobra.Command, name, desc, deadline, assignee *string, completed *bool) {
	cmd.Flags().StringVar(name, "name", "", "task name")
	cmd.Flags().StringVar(desc, "desc", "", "description")
	cmd.Flags().StringVar(deadline, "deadline", "", "deadline (date or epoch ms)")
	cmd.Flags().StringVar(assignee, "assignee", "", "responsible actor id")
	cmd.Flags().BoolVar(completed, "completed", false, "completed flag")
}

func taskCreateCmd() *cobra.Command {
	var name, desc, deadline, assignee string
	var completed bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskWrite{
					Name: name, Description: desc,
					Deadline:      deadlineArg(deadline),
					Completed:     completed,
					AssignedActor: assignee,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	taskWriteFlags(cmd, &name, &desc, &deadline, &assignee, &completed)
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var name, desc, deadline, assignee string
	var completed bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReplaceTask(ctx, args[0], engine.TaskWrite{
					Name: name, Description: desc,
					Deadline:      deadlineArg(deadline),
					Completed:     completed,
					AssignedActor: assignee,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	taskWriteFlags(cmd, &name, &desc, &deadline, &assignee, &completed)
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				t, err = e.ReplaceTask(ctx, t.ID, engine.TaskWrite{
					Name: t.Name, Description: t.Description,
					Deadline:      t.Deadline,
					Completed:     true,
					AssignedActor: t.AssignedActor,
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Reconcile actor/task cross-references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.Repair(ctx)
				if err != nil {
					return err
				}
				if report.Clean() {
					fmt.Println("nothing to repair")
					return nil
				}
				return printJSON(report)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "ID"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind, evt.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// deadlineArg keeps an absent flag distinguishable from an empty string so
// the engine reports the missing field.
func deadlineArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}
