package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/seed"
	"siteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline tracks construction-site progress with photo evidence and role buckets.
Core concepts:
- Workspace: your .siteline directory holding only the database; configs are stored in the DB.
- Project: a construction site that owns elements, subtasks, and the event log.
- Elements: physical parts of the site (foundation, steel frame, roof), each led by a foreman with a crew.
- Subtasks: checklist items on an element. They complete through evidence, not by hand: the first approved photo marks them done, losing the last approved photo reopens them.
- Evidence: photos uploaded by foremen and reviewed by engineers or architects (pending -> approved/rejected).
- Buckets: architects/engineers/foremen/workers per project, pairwise disjoint. Staging an assignment asks permanent vs temporary; permanent overwrites the person's role.
- Event log: diary of changes, view with 'sl log tail'.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "admin", "actor role for capability checks")
	rootCmd.PersistentFlags().String("project", "", "project id or code (overrides single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rosterCmd())
	rootCmd.AddCommand(elementCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "Status", "Progress"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Code, p.Name, p.Status, fmt.Sprintf("%d%%", p.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var code, name, location string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
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
			e := engine.New(conn, config.Default(""))
			p, err := e.CreateProject(cmd.Context(), code, name, location, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "project code (unique)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&location, "location", "", "site location")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SITELINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SITELINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "See the dashboard for your site: element and subtask counts, top workers, and overall progress.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.ProjectStatus(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				p := status.Project
				fmt.Printf("Project: %s %s (%s) %d%%\n", p.Code, p.Name, p.Status, p.Progress)
				fmt.Printf("Elements: %d (avg progress %d%%)\n", status.ElementCount, status.AverageProgress)
				fmt.Printf("Subtasks: %d done of %d\n", status.DoneCount, status.SubtaskCount)
				fmt.Printf("Top workers: %d\n", status.TopWorkerCount)
				return nil
			})
		},
	}
	return cmd
}

func rosterCmd() *cobra.Command {
	roster := &cobra.Command{
		Use:   "roster",
		Short: "Manage the site roster",
	}
	roster.AddCommand(rosterListCmd())
	roster.AddCommand(rosterAddCmd())
	return roster
}

func rosterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				persons, err := r.ListPersons(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(persons)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Score"})
				for _, p := range persons {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Role, p.Score})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rosterAddCmd() *cobra.Command {
	var p domain.Person
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.AddPerson(ctx, p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "person id (optional)")
	cmd.Flags().StringVar(&p.Name, "name", "", "full name")
	cmd.Flags().StringVar(&p.Role, "role", "worker", "role (admin, architect, engineer, foreman, worker)")
	cmd.Flags().Float64Var(&p.Score, "score", 0, "performance score")
	cmd.Flags().StringVar(&p.PhotoURL, "photo-url", "", "photo URL")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func elementCmd() *cobra.Command {
	el := &cobra.Command{
		Use:   "element",
		Short: "Manage construction elements",
	}
	el.AddCommand(elementCreateCmd())
	el.AddCommand(elementListCmd())
	el.AddCommand(elementWorkersCmd())
	return el
}

func elementCreateCmd() *cobra.Command {
	var name, foremanID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an element",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				el, err := e.CreateElement(ctx, e.Config.Project.ID, name, foremanID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "element name")
	cmd.Flags().StringVar(&foremanID, "foreman", "", "foreman person id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func elementListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List elements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				elements, err := e.Repo.ListElements(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(elements)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Progress", "Foreman"})
				for _, el := range elements {
					tw.AppendRow(table.Row{el.ID, el.Name, fmt.Sprintf("%d%%", el.Progress), el.ForemanID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func elementWorkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers <element-id>",
		Short: "List element crew by score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				crew, err := e.Repo.ListElementWorkers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(crew)
			})
		},
	}
	return cmd
}

func subtaskCmd() *cobra.Command {
	st := &cobra.Command{
		Use:   "subtask",
		Short: "Manage subtasks",
		Long:  "Subtasks complete through evidence. Approving the first photo marks them done; hand toggling to done requires at least one approved photo.",
	}
	st.AddCommand(subtaskCreateCmd())
	st.AddCommand(subtaskListCmd())
	st.AddCommand(subtaskDoneCmd())
	return st
}

func subtaskCreateCmd() *cobra.Command {
	var elementID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subtask",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CreateSubtask(ctx, elementID, title, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&elementID, "element", "", "element id")
	cmd.Flags().StringVar(&title, "title", "", "title")
	_ = cmd.MarkFlagRequired("element")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func subtaskListCmd() *cobra.Command {
	var elementID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subtasks for an element",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				subtasks, err := e.Repo.ListSubtasks(ctx, elementID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(subtasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Done"})
				for _, st := range subtasks {
					tw.AppendRow(table.Row{st.ID, st.Title, st.Done})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&elementID, "element", "", "element id")
	_ = cmd.MarkFlagRequired("element")
	return cmd
}

func subtaskDoneCmd() *cobra.Command {
	var undone bool
	cmd := &cobra.Command{
		Use:   "done <subtask-id>",
		Short: "Toggle a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Access.RequireUpload(role); err != nil {
					return err
				}
				st, err := e.SetSubtaskDone(ctx, args[0], !undone, viper.GetString("actor-id"), role)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().BoolVar(&undone, "undo", false, "mark as not done instead")
	return cmd
}

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{
		Use:   "evidence",
		Short: "Manage photo evidence",
		Long:  "Foremen upload photos, engineers and architects review them. Approvals and rejections drive subtask completion.",
	}
	ev.AddCommand(evidenceUploadCmd())
	ev.AddCommand(evidenceApproveCmd())
	ev.AddCommand(evidenceRejectCmd())
	ev.AddCommand(evidenceRemoveCmd())
	ev.AddCommand(evidenceReleaseCmd())
	return ev
}

func evidenceUploadCmd() *cobra.Command {
	var subtaskID, fileName string
	var byteSize int64
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload evidence to a subtask",
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Access.RequireUpload(role); err != nil {
					return err
				}
				_, ev, err := e.UploadEvidence(ctx, engine.EvidenceUploadOptions{
					SubtaskID: subtaskID,
					FileName:  fileName,
					ByteSize:  byteSize,
					ActorID:   viper.GetString("actor-id"),
					ActorRole: role,
				})
				if err != nil {
					return err
				}
				if ev == nil {
					return fmt.Errorf("role %s cannot upload evidence", role)
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&subtaskID, "subtask", "", "subtask id")
	cmd.Flags().StringVar(&fileName, "file", "", "photo file name")
	cmd.Flags().Int64Var(&byteSize, "size", 0, "photo size in bytes")
	_ = cmd.MarkFlagRequired("subtask")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func evidenceApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <evidence-id>",
		Short: "Approve evidence",
		Args:  cobra.ExactArgs(1),
		RunE:  reviewRunE(func(e engine.Engine) reviewFn { return e.ApproveEvidence }),
	}
	return cmd
}

func evidenceRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <evidence-id>",
		Short: "Reject evidence",
		Args:  cobra.ExactArgs(1),
		RunE:  reviewRunE(func(e engine.Engine) reviewFn { return e.RejectEvidence }),
	}
	return cmd
}

type reviewFn func(context.Context, string, string, string) (domain.Subtask, error)

func reviewRunE(pick func(engine.Engine) reviewFn) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		role := viper.GetString("role")
		return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
			if err := e.Access.RequireApprove(role); err != nil {
				return err
			}
			st, err := pick(e)(ctx, args[0], viper.GetString("actor-id"), role)
			if err != nil {
				return err
			}
			return printJSONOrTable(st)
		})
	}
}

func evidenceRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <evidence-id>",
		Short: "Remove evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Access.RequireUpload(role); err != nil {
					return err
				}
				st, err := e.RemoveEvidence(ctx, args[0], viper.GetString("actor-id"), role)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func evidenceReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <subtask-id>",
		Short: "Release preview handles for a subtask",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n := e.ReleaseSubtaskPreviews(args[0])
				fmt.Printf("released %d preview(s)\n", n)
				return nil
			})
		},
	}
	return cmd
}

func assignCmd() *cobra.Command {
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Manage role bucket assignments",
		Long:  "Select candidates, stage them for a bucket, then confirm permanent or temporary. Permanent confirmation overwrites each person's role; buckets stay pairwise disjoint.",
	}
	assign.AddCommand(assignSelectCmd())
	assign.AddCommand(assignClearCmd())
	assign.AddCommand(assignStageCmd())
	assign.AddCommand(assignConfirmCmd())
	assign.AddCommand(assignDismissCmd())
	assign.AddCommand(assignRemoveCmd())
	assign.AddCommand(assignListCmd())
	return assign
}

func assignSelectCmd() *cobra.Command {
	var personIDs []string
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Select assignment candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kept, err := e.SelectCandidates(ctx, e.Config.Project.ID, viper.GetString("actor-id"), personIDs)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"person_ids": kept})
			})
		},
	}
	cmd.Flags().StringArrayVar(&personIDs, "person", []string{}, "person id (repeatable)")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func assignClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.ClearSelection(viper.GetString("actor-id"), e.Config.Project.ID)
				return nil
			})
		},
	}
	return cmd
}

func assignStageCmd() *cobra.Command {
	var personIDs []string
	cmd := &cobra.Command{
		Use:   "stage <bucket>",
		Short: "Stage selection for a bucket (architects, engineers, foremen, workers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pending, err := e.AssignSelected(ctx, e.Config.Project.ID, viper.GetString("actor-id"), role, args[0], personIDs)
				if err != nil {
					return err
				}
				return printJSONOrTable(pending)
			})
		},
	}
	cmd.Flags().StringArrayVar(&personIDs, "person", []string{}, "person id (repeatable, defaults to current selection)")
	return cmd
}

func assignConfirmCmd() *cobra.Command {
	var permanent bool
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm pending assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				set, err := e.ConfirmAssignment(ctx, e.Config.Project.ID, viper.GetString("actor-id"), role, permanent)
				if err != nil {
					return err
				}
				return printJSONOrTable(set)
			})
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "overwrite each person's role to match the bucket")
	return cmd
}

func assignDismissCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dismiss",
		Short: "Dismiss pending assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.DismissAssignment(viper.GetString("actor-id"), e.Config.Project.ID)
				return nil
			})
		},
	}
	return cmd
}

func assignRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <bucket> <person-id>",
		Short: "Remove person from bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				set, err := e.RemoveFromBucket(ctx, e.Config.Project.ID, viper.GetString("actor-id"), role, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(set)
			})
		},
	}
	return cmd
}

func assignListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bucket assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				set, err := e.Repo.ListAssignments(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(set)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bucket", "Persons"})
				for _, bucket := range domain.Buckets() {
					tw.AppendRow(table.Row{bucket, strings.Join(set[bucket], ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var personID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetPerson(ctx, personID); err != nil {
					return err
				}
				raw := uuid.New().String()
				key := domain.APIKey{
					ID:       uuid.New().String(),
					PersonID: personID,
					Name:     name,
					KeyHash:  repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// raw key is shown once and never stored
				fmt.Printf("api key %s created for %s\nkey: %s\n", key.ID, personID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&personID, "person", "", "person id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var personID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, personID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&personID, "person", "", "filter by person id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo site (Logistics Facility)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := seed.Apply(ctx, r.DB, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), viper.GetString("project"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("SITELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Context: cmd.Context()})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
