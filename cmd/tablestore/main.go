// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tablestore [command] (flags)",
	Short: "in-memory table store with durable blob persistence",
	Long:  ``,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP API and the data-reader protocol",
	Long: `
Serves the HTTP API and the data-reader protocol until interrupted. Settings
are read from the file given by --config, if any, and then from environment
variables such as PERSISTENCE_DEST, BACKUP_DEST, API_KEY, HTTP_PORT and
TCP_PORT.
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(
		&configPath, "config", "", "path of an optional yaml configuration file")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
