package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cas-go/internal/app"
	"cas-go/internal/cas"
)

const timeLayout = "2006-01-02 15:04:05"

// workspace command
var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		visibility, _ := cmd.Flags().GetString("visibility")

		return withApp(cmd, "CreateWorkspace", func(ctx context.Context, a *app.App) error {
			ws, err := a.CreateWorkspace(ctx, cas.WorkspaceOptions{
				Name:       args[0],
				Owner:      owner,
				Visibility: cas.Visibility(visibility),
			})
			if err != nil {
				return err
			}
			fmt.Println(ws.ID)
			return nil
		})
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		return withApp(cmd, "ListWorkspaces", func(ctx context.Context, a *app.App) error {
			list, err := a.ListWorkspaces(ctx, all)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No workspaces.")
				return nil
			}
			for _, ws := range list {
				deleted := ""
				if ws.Deleted() {
					deleted = "  [deleted]"
				}
				fmt.Printf("%s  %-20s  %-10s  %-8s  %s%s\n", ws.ID, ws.Name, ws.Owner, ws.Visibility, ws.CreatedAt.Format(timeLayout), deleted)
			}
			return nil
		})
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Soft-delete a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "DeleteWorkspace", func(ctx context.Context, a *app.App) error {
			if err := a.DeleteWorkspace(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted workspace %s\n", args[0])
			return nil
		})
	},
}

var workspacePurgeCmd = &cobra.Command{
	Use:   "purge ID",
	Short: "Remove a deleted workspace and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "PurgeWorkspace", func(ctx context.Context, a *app.App) error {
			n, err := a.PurgeWorkspace(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Purged workspace %s (%d file row(s)); run 'cas gc' to reclaim blobs\n", args[0], n)
			return nil
		})
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback WORKSPACE_ID MERGE_ID",
	Short: "Restore the state at a merge into a new or existing workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts cas.RollbackOptions
		opts.NewName, _ = cmd.Flags().GetString("name")
		opts.TargetWorkspaceID, _ = cmd.Flags().GetString("onto")

		return withApp(cmd, "Rollback", func(ctx context.Context, a *app.App) error {
			res, err := a.Rollback(ctx, args[0], args[1], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Workspace %s  merge %s  %d file(s) copied\n", res.WorkspaceID, res.MergeID, res.FilesCopied)
			return nil
		})
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone WORKSPACE_ID",
	Short: "Copy the head state of a workspace into a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		return withApp(cmd, "Clone", func(ctx context.Context, a *app.App) error {
			res, err := a.Clone(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Printf("Workspace %s  merge %s  %d file(s) copied\n", res.WorkspaceID, res.MergeID, res.FilesCopied)
			return nil
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log WORKSPACE_ID",
	Short: "List the merges of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "Log", func(ctx context.Context, a *app.App) error {
			merges, err := a.Log(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if len(merges) == 0 {
				fmt.Println("No merges.")
				return nil
			}
			for _, m := range merges {
				fmt.Printf("#%-4d %s  %s  %s  %s\n", m.Sequence, m.ID, m.MergedAt.Format(timeLayout), m.Label, m.Message)
			}
			return nil
		})
	},
}

var stateCmd = &cobra.Command{
	Use:   "state WORKSPACE_ID",
	Short: "List the files of a workspace head or of an earlier merge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")

		return withApp(cmd, "State", func(ctx context.Context, a *app.App) error {
			state, err := a.State(ctx, args[0], at)
			if err != nil {
				return err
			}
			for _, e := range state {
				fmt.Printf("%s  %10d  %s\n", e.BlobHash[:12], e.SizeBytes, e.RelativePath)
			}
			return nil
		})
	},
}

var changesCmd = &cobra.Command{
	Use:   "changes MERGE_ID",
	Short: "List the paths a merge changed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Changes", func(ctx context.Context, a *app.App) error {
			files, err := a.Changes(ctx, args[0])
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Printf("%-9s %s  %s\n", f.Action, f.BlobHash[:12], f.RelativePath)
			}
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions WORKSPACE_ID",
	Short: "List merge sessions of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "Sessions", func(ctx context.Context, a *app.App) error {
			sessions, err := a.Sessions(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s  %-8s  %-9s  %s  %s\n", s.ID, s.SourceType, s.Status, s.StartedAt.Format(timeLayout), s.Metadata)
			}
			return nil
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the operation log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		return withApp(cmd, "History", func(ctx context.Context, a *app.App) error {
			ops, err := a.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt.Valid {
					duration = op.FinishedAt.Time.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-16s  %s  %-8s  %-10s  %s\n",
					op.ID, op.Operation, op.StartedAt.Format(timeLayout), op.Status, duration, op.Parameters)
			}
			return nil
		})
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCreateCmd.Flags().String("owner", "", "Owner of the workspace")
	workspaceCreateCmd.Flags().String("visibility", string(cas.VisibilityPrivate), "private, shared or public")
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceListCmd.Flags().BoolP("all", "a", false, "Include deleted workspaces")
	workspaceCmd.AddCommand(workspaceDeleteCmd)
	workspaceCmd.AddCommand(workspacePurgeCmd)
	rootCmd.AddCommand(workspaceCmd)

	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().String("name", "", "Name of the new workspace")
	rollbackCmd.Flags().String("onto", "", "Apply onto this existing workspace instead")

	rootCmd.AddCommand(cloneCmd)
	cloneCmd.Flags().String("name", "", "Name of the new workspace (default <name>-clone)")

	rootCmd.AddCommand(logCmd)
	logCmd.Flags().IntP("limit", "n", 20, "Maximum number of merges to show")
	rootCmd.AddCommand(stateCmd)
	stateCmd.Flags().String("at", "", "Resolve at this merge instead of the head")
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
