// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/fileconv/internal/journal"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "List or clear interrupted uploads",
	Long: `Uploads lists the checkpoints of uploads that were interrupted and can
resume. Converting the same file again continues from the last recorded
part. Use --clear to forget checkpoints, optionally only those older than
--older-than.`,
	RunE: runUploads,
}

func init() {
	uploadsCmd.Flags().Bool("clear", false, "remove checkpoints")
	uploadsCmd.Flags().Duration("older-than", 0, "with --clear, only remove checkpoints older than this")
	uploadsCmd.Flags().Bool("yaml", false, "export checkpoints as YAML")

	rootCmd.AddCommand(uploadsCmd)
}

func runUploads(cmd *cobra.Command, args []string) error {
	if cfg.Storage.Journal == "" {
		return fmt.Errorf("storage.journal is not configured; uploads are not resumable")
	}

	j, err := journal.Open(cfg.Storage.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := context.Background()
	if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
		var cutoff time.Time
		if age, _ := cmd.Flags().GetDuration("older-than"); age > 0 {
			cutoff = time.Now().Add(-age)
		}
		n, err := j.Clear(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "removed %d checkpoint(s)\n", n)
		return nil
	}

	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		return j.ExportYAML(ctx, os.Stdout)
	}
	return printUploads(ctx, os.Stdout, j)
}

func printUploads(ctx context.Context, w io.Writer, j *journal.Journal) error {
	cps, err := j.List(ctx)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Fprintln(w, "No interrupted uploads.")
		return nil
	}

	fmt.Fprintf(w, "%-30s  %-8s  %-20s  %-14s  %s\n", "Name", "Backend", "Progress", "Updated", "Key")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, cp := range cps {
		progress := fmt.Sprintf("%s / %s",
			humanize.IBytes(uint64(cp.Transferred())), humanize.IBytes(uint64(cp.Size)))
		fmt.Fprintf(w, "%-30s  %-8s  %-20s  %-14s  %s\n",
			cp.Name, cp.Backend, progress, humanize.Time(cp.UpdatedAt), cp.Key)
	}
	return nil
}
