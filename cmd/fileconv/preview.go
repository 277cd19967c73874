// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/preview"
	"github.com/pdiddy/fileconv/pkg/types"
)

var previewCmd = &cobra.Command{
	Use:   "preview [file]",
	Short: "Show the preview generated for a file",
	Long: `Preview prints what a client would show after selecting the file: the
leading text of text files (with a trailing marker when truncated), the
media kind of images, video, and audio, or a name, size, and extension
placeholder for everything else.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().Int("limit", 0, "text preview length in bytes (default from config)")

	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Preview.TextLimit
	}

	f, err := localfile.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return printPreview(cmd.Context(), os.Stdout, preview.NewGenerator(objurl.NewRegistry(), limit), f)
}

func printPreview(ctx context.Context, w io.Writer, g *preview.Generator, f *localfile.File) error {
	art, err := g.Generate(ctx, f)
	if err != nil {
		return err
	}
	defer art.Release()

	fmt.Fprintln(w, preview.Describe(f))
	switch art.Kind {
	case types.PreviewText:
		fmt.Fprintln(w)
		fmt.Fprintln(w, art.Display())
	case types.PreviewImage, types.PreviewVideo, types.PreviewAudio:
		fmt.Fprintf(w, "%s preview (%s)\n", art.Kind, f.MIMEType())
	default:
		fmt.Fprintln(w, "no preview available")
	}
	return nil
}
