package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"cas-go/internal/app"
	"cas-go/internal/cas"
)

var storeCmd = &cobra.Command{
	Use:   "store PATH",
	Short: "Store one file as a blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		declared, _ := cmd.Flags().GetString("hash")
		mime, _ := cmd.Flags().GetString("mime")

		return withApp(cmd, "Store", func(ctx context.Context, a *app.App) error {
			res, err := a.Store(ctx, args[0], declared, mime)
			if err != nil {
				return err
			}
			state := "stored"
			if res.Deduplicated {
				state = "deduplicated"
			}
			codec := res.CompressionType
			if codec == "" {
				codec = "raw"
			}
			fmt.Printf("%s  %s  %d -> %d bytes  %s  %s\n", res.Hash, state, res.OriginalSizeBytes, res.StoredSizeBytes, codec, res.MimeType)
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat HASH",
	Short: "Write the original bytes of a blob to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Cat", func(ctx context.Context, a *app.App) error {
			return a.Cat(ctx, args[0], os.Stdout)
		})
	},
}

var statCmd = &cobra.Command{
	Use:   "stat HASH",
	Short: "Show the metadata of a blob",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Stat", func(ctx context.Context, a *app.App) error {
			b, err := a.StatBlob(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Hash:        %s\n", b.Hash)
			fmt.Printf("MIME:        %s (binary=%v)\n", b.MimeType, b.IsBinary)
			fmt.Printf("Size:        %d bytes, %d stored\n", b.OriginalSizeBytes, b.StoredSizeBytes)
			if b.IsStoredCompressed {
				fmt.Printf("Compression: %s\n", b.CompressionType.String)
			}
			fmt.Printf("Created:     %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var sourceUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.@-]+`)

// defaultSource derives "local:<dir name>" for an ingest without --source.
func defaultSource(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	name := strings.Trim(sourceUnsafe.ReplaceAllString(filepath.Base(abs), "-"), "-._@")
	if name == "" {
		name = "root"
	}
	return "local:" + name
}

var ingestCmd = &cobra.Command{
	Use:   "ingest DIR",
	Short: "Store every file of a directory, optionally committing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.IngestOptions
		opts.WorkspaceID, _ = cmd.Flags().GetString("workspace")
		opts.Source, _ = cmd.Flags().GetString("source")
		opts.Tags, _ = cmd.Flags().GetStringSlice("tag")
		opts.Label, _ = cmd.Flags().GetString("label")
		opts.Message, _ = cmd.Flags().GetString("message")
		quiet, _ := cmd.Flags().GetBool("quiet")
		if opts.Source == "" {
			opts.Source = defaultSource(args[0])
		}

		return withApp(cmd, "Ingest", func(ctx context.Context, a *app.App) error {
			summary, err := a.Ingest(ctx, args[0], opts, func(ev cas.ProgressEvent, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "failed: %v\n", err)
					return
				}
				if !quiet {
					fmt.Printf("[%d/%d] %s  %s\n", ev.Processed, ev.Total, ev.LastHash[:12], ev.Path)
				}
			})
			if summary != nil {
				fmt.Printf("Ingested %d file(s): %d deduplicated, %d failed, %d bytes written\n",
					summary.Files, summary.Deduplicated, summary.Failed, summary.StoredBytes)
				if c := summary.Commit; c != nil {
					fmt.Printf("Merge %s  +%d ~%d -%d  tree %s\n", c.MergeID, c.Diff.Added, c.Diff.Updated, c.Diff.Deleted, c.HashTreeSHA256)
				}
			}
			return err
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit WORKSPACE_ID SNAPSHOT.json",
	Short: "Commit a snapshot document (\"-\" reads stdin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		message, _ := cmd.Flags().GetString("message")

		var r io.Reader = os.Stdin
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			defer f.Close()
			r = f
		}

		return withApp(cmd, "Commit", func(ctx context.Context, a *app.App) error {
			res, err := a.Commit(ctx, args[0], r, cas.CommitOptions{Label: label, Message: message})
			if err != nil {
				return err
			}
			if !res.Diff.Changed() {
				fmt.Printf("No changes; merge %s recorded\n", res.MergeID)
				return nil
			}
			fmt.Printf("Merge %s  +%d ~%d -%d  tree %s\n", res.MergeID, res.Diff.Added, res.Diff.Updated, res.Diff.Deleted, res.HashTreeSHA256)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify HASH_TREE",
	Short: "Check the integrity of a stored manifest document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Verify", func(ctx context.Context, a *app.App) error {
			m, err := a.Verify(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("OK  %s  %s  %d file(s), %d bytes\n", m.Source, m.Version, m.TotalFiles, m.TotalSizeBytes)
			return nil
		})
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete blobs no workspace references",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		return withApp(cmd, "CollectGarbage", func(ctx context.Context, a *app.App) error {
			res, err := a.CollectGarbage(ctx, dryRun)
			if err != nil {
				return err
			}
			for _, o := range res.Candidates {
				fmt.Printf("%s  %d bytes\n", o.Hash, o.OriginalSizeBytes)
			}
			if res.DryRun {
				fmt.Printf("%d orphan(s) found; nothing deleted\n", len(res.Candidates))
				return nil
			}
			fmt.Printf("Deleted %d blob(s), freed %d bytes, swept %d temp file(s)\n", res.DeletedCount, res.FreedBytes, res.TempSwept)
			return nil
		})
	},
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List blobs a collection would delete",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Orphans", func(ctx context.Context, a *app.App) error {
			orphans, err := a.Orphans(ctx)
			if err != nil {
				return err
			}
			var total int64
			for _, o := range orphans {
				fmt.Printf("%s  %d bytes (%d stored)\n", o.Hash, o.OriginalSizeBytes, o.StoredSizeBytes)
				total += o.StoredSizeBytes
			}
			fmt.Printf("%d orphan(s), %d stored bytes\n", len(orphans), total)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().String("hash", "", "Declared SHA-256 to verify against")
	storeCmd.Flags().String("mime", "", "MIME type instead of sniffing")

	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(statCmd)

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringP("workspace", "w", "", "Commit the snapshot to this workspace")
	ingestCmd.Flags().String("source", "", "Snapshot source (default local:<dir name>)")
	ingestCmd.Flags().StringSlice("tag", nil, "Snapshot tag (repeatable)")
	ingestCmd.Flags().String("label", "", "Merge label")
	ingestCmd.Flags().StringP("message", "m", "", "Merge message")
	ingestCmd.Flags().BoolP("quiet", "q", false, "Only print the summary")

	rootCmd.AddCommand(commitCmd)
	commitCmd.Flags().String("label", "", "Merge label")
	commitCmd.Flags().StringP("message", "m", "", "Merge message")

	rootCmd.AddCommand(verifyCmd)

	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().Bool("dry-run", false, "Only list orphans")
}
