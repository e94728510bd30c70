// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeeper/gatekeeper/internal/httpapi"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "schema [name...]",
		Short: "Print the JSON Schemas of the API request bodies",
		Long: `Print the JSON Schema for each named request body, or for all of them.
With --out, each schema is written to <out>/<name>.schema.json instead.`,
		ValidArgs: httpapi.SchemaNames,
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = httpapi.SchemaNames
			}
			return writeSchemas(cmd, names, outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write schema files into")
	return cmd
}

func writeSchemas(cmd *cobra.Command, names []string, outDir string) error {
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return oops.Code("SCHEMA_WRITE_FAILED").With("dir", outDir).Wrap(err)
		}
	}
	for _, name := range names {
		data, err := httpapi.GenerateSchema(name)
		if err != nil {
			return err
		}
		if outDir == "" {
			cmd.Println(string(data))
			continue
		}
		path := filepath.Join(outDir, name+".schema.json")
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil { //nolint:gosec // schemas are public
			return oops.Code("SCHEMA_WRITE_FAILED").With("path", path).Wrap(err)
		}
		cmd.Printf("wrote %s\n", path)
	}
	return nil
}
