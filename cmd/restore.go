// This file is part of bizfly-archiver
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-archiver/pkg/server"
)

var (
	restoreDir   string
	restoreFiles []string
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var restoreDatabaseCmd = &cobra.Command{
	Use:   "database ARTIFACT",
	Short: "Restore the database from a dump artifact.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := server.RestoreRequest{ArtifactPath: args[0]}
		if err := newAgentClient(addr).do(http.MethodPost, "/restore/database", req, nil); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Println("database restored from", args[0])
	},
}

var restoreFilesCmd = &cobra.Command{
	Use:   "files ARCHIVE",
	Short: "Extract a files archive, entirely or the entries given by --file.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dest, err := filepath.Abs(restoreDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		req := server.RestoreRequest{ArtifactPath: args[0], DestFolder: dest, Files: restoreFiles}
		var resp struct {
			Files []string `json:"files"`
		}
		if err := newAgentClient(addr).do(http.MethodPost, "/restore/files", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		for _, f := range resp.Files {
			fmt.Println(f)
		}
	},
}

var restoreEntriesCmd = &cobra.Command{
	Use:   "entries ARCHIVE",
	Short: "List the files inside a files archive.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var entries []string
		if err := newAgentClient(addr).do(http.MethodGet, "/backups/entries?path="+url.QueryEscape(args[0]), nil, &entries); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		for _, e := range entries {
			fmt.Println(e)
		}
	},
}

func init() {
	restoreFilesCmd.Flags().StringVar(&restoreDir, "dest-directory", "", "The destination directory to restore")
	restoreFilesCmd.Flags().StringSliceVar(&restoreFiles, "file", nil, "archive entry or directory to restore, repeatable")
	_ = restoreFilesCmd.MarkFlagRequired("dest-directory")
	restoreCmd.AddCommand(restoreDatabaseCmd, restoreFilesCmd, restoreEntriesCmd)
	rootCmd.AddCommand(restoreCmd)
}
