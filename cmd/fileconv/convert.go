// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pdiddy/fileconv/internal/convert"
	"github.com/pdiddy/fileconv/internal/fetch"
	"github.com/pdiddy/fileconv/internal/localfile"
	"github.com/pdiddy/fileconv/internal/objurl"
	"github.com/pdiddy/fileconv/internal/transfer"
	"github.com/pdiddy/fileconv/pkg/types"
)

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Upload files and convert them to a target format",
	Long: `Convert uploads each file to the configured storage backend, requests
its conversion, and writes the result to the output directory as
<name>-converted.<format>. Files whose output already exists are skipped
unless --force is given. Interrupted uploads resume on the next run.
Arguments that are http(s) URLs are downloaded first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("to", "", "target format code (see 'fileconv formats')")
	convertCmd.Flags().String("out", ".", "directory for converted files")
	convertCmd.Flags().Bool("force", false, "overwrite existing output files")
	convertCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	outDir, _ := cmd.Flags().GetString("out")
	force, _ := cmd.Flags().GetBool("force")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, loadedSecrets)
	if err != nil {
		return err
	}
	defer a.Close()

	format, ok := a.catalog.Lookup(to)
	if !ok {
		return fmt.Errorf("%w: %q", transfer.ErrUnknownFormat, to)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	var result convert.BatchResult
	for _, path := range args {
		if ctx.Err() != nil {
			break
		}
		status, err := convertOne(ctx, a, path, format, outDir, force, os.Stdout)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stdout, "failed    %s: %v\n", path, err)
			result.Failed++
		case status == statusSkipped:
			result.Skipped++
		default:
			result.Converted++
		}
	}

	if len(args) > 1 {
		result.Fprint(os.Stdout)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if result.HasFailures() {
		return fmt.Errorf("%d file(s) failed conversion", result.Failed)
	}
	return nil
}

type convertStatus int

const (
	statusConverted convertStatus = iota
	statusSkipped
)

// convertOne runs one Machine attempt for path and writes the download.
func convertOne(ctx context.Context, a *app, path string, format types.Format, outDir string, force bool, w io.Writer) (convertStatus, error) {
	f, err := openSource(ctx, path)
	if err != nil {
		return 0, err
	}

	outPath := filepath.Join(outDir, localfile.DownloadName(f.Name(), format))
	if !force {
		if _, err := os.Stat(outPath); err == nil {
			f.Close()
			fmt.Fprintf(w, "skipped   %s (%s exists)\n", path, outPath)
			return statusSkipped, nil
		}
	}

	last := -1
	m := a.newMachine(transfer.WithObserver(func(s types.Snapshot) {
		if s.State != types.StateConverting {
			return
		}
		if pct := int(s.Progress); pct/10 > last/10 || last < 0 {
			last = pct
			fmt.Fprintf(w, "uploading %s %3d%%\n", f.Name(), pct)
		}
	}))
	defer m.Close()

	m.Select(f)
	if err := m.SetFormat(format.Value); err != nil {
		return 0, err
	}
	if err := m.Convert(); err != nil {
		return 0, err
	}

	snap, err := m.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if snap.State == types.StateError {
		return 0, errors.New(snap.Error)
	}

	d, ok := m.Download()
	if !ok {
		return 0, errors.New("conversion finished without a result")
	}
	if err := saveDownload(a.handles, d, outPath); err != nil {
		return 0, err
	}
	fmt.Fprintf(w, "converted %s -> %s (%s)\n", path, outPath, humanize.IBytes(uint64(d.Size)))
	return statusConverted, nil
}

// openSource opens a local path, or downloads an http(s) URL first.
func openSource(ctx context.Context, path string) (*localfile.File, error) {
	if !fetch.IsURL(path) {
		return localfile.Open(path)
	}
	slog.Debug("fetching remote source", "url", fetch.Redacted(path))
	return fetch.URL(ctx, path, fetch.Options{
		Client:     &http.Client{Timeout: cfg.Conversion.Timeout},
		MaxRetries: cfg.Conversion.MaxRetries,
		MaxSize:    cfg.Server.MaxUploadSize,
	})
}

// saveDownload writes the object behind d to path.
func saveDownload(handles *objurl.Registry, d types.Download, path string) error {
	obj, ok := handles.Resolve(d.URL)
	if !ok {
		return fmt.Errorf("download %s is no longer available", d.Filename)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(out, obj.Reader()); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return out.Close()
}
