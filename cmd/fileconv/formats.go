// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/fileconv/internal/catalog"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the target formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.FromPath(cfg.Catalog)
		if err != nil {
			return err
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return printFormats(os.Stdout, cat, jsonOutput)
	},
}

func init() {
	formatsCmd.Flags().Bool("json", false, "output the catalog as JSON")

	rootCmd.AddCommand(formatsCmd)
}

func printFormats(w io.Writer, cat *catalog.Catalog, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cat.Categories())
	}

	for _, c := range cat.Categories() {
		codes := make([]string, 0, len(c.Formats))
		for _, f := range c.Formats {
			codes = append(codes, f.Value)
		}
		fmt.Fprintf(w, "%-10s %s\n", c.Name, strings.Join(codes, ", "))
	}
	return nil
}
