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
	"os"
	"strconv"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/server"
)

var (
	listArtifactsHeaders = []string{"Name", "Kind", "Size", "Encrypted", "Modified"}
	artifactHeaders      = []string{"Path", "Kind", "Size", "Encrypted", "Checksum", "Uploaded To"}

	backupFilename string
	backupEncrypt  bool
	backupBackends []string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Perform backup tasks.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

// backupListCmd represents the backup list command
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local artifacts.",
	Run: func(cmd *cobra.Command, args []string) {
		var arts []backup.ArtifactInfo
		if err := newAgentClient(addr).do(http.MethodGet, "/backups", nil, &arts); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		formatter.Output(listArtifactsHeaders, artifactInfoRows(arts))
	},
}

var backupDatabaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Dump the configured database now.",
	Run: func(cmd *cobra.Command, args []string) {
		runBackup("/backups/database", server.BackupRequest{
			Filename: backupFilename,
			Encrypt:  backupEncrypt,
			Backends: backupBackends,
		})
	},
}

var backupFilesCmd = &cobra.Command{
	Use:   "files FOLDER...",
	Short: "Bundle folders into a zip artifact now.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		folders, err := absPaths(args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		runBackup("/backups/files", server.BackupRequest{
			Filename: backupFilename,
			Folders:  folders,
			Encrypt:  backupEncrypt,
			Backends: backupBackends,
		})
	},
}

var backupScheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "Run the scheduled backup plan now.",
	Run: func(cmd *cobra.Command, args []string) {
		var res backup.PlanResult
		if err := newAgentClient(addr).do(http.MethodPost, "/backups/scheduled", nil, &res); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		formatter.Output(artifactHeaders, artifactRows(res.Artifacts...))
		for _, r := range res.Removed {
			fmt.Println("removed", r)
		}
		for _, e := range res.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		if len(res.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func runBackup(path string, req server.BackupRequest) {
	var art backup.Artifact
	if err := newAgentClient(addr).do(http.MethodPost, path, req, &art); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	formatter.Output(artifactHeaders, artifactRows(&art))
	for _, e := range art.UploadErrors {
		fmt.Fprintln(os.Stderr, "upload failed:", e)
	}
}

func artifactRows(arts ...*backup.Artifact) [][]string {
	data := make([][]string, 0, len(arts))
	for _, a := range arts {
		dests := make([]string, 0, len(a.UploadedTo))
		for _, d := range a.UploadedTo {
			dests = append(dests, d.String())
		}
		data = append(data, []string{
			a.LocalPath,
			string(a.Kind),
			humanize.Bytes(uint64(a.Size)),
			strconv.FormatBool(a.Encrypted),
			a.Checksum,
			fmt.Sprint(dests),
		})
	}
	return data
}

func artifactInfoRows(arts []backup.ArtifactInfo) [][]string {
	data := make([][]string, 0, len(arts))
	for _, a := range arts {
		data = append(data, []string{
			a.Name,
			string(a.Kind),
			humanize.Bytes(uint64(a.Size)),
			strconv.FormatBool(a.Encrypted),
			a.ModTime.Local().Format(time.RFC3339),
		})
	}
	return data
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupListCmd)
	for _, c := range []*cobra.Command{backupDatabaseCmd, backupFilesCmd} {
		c.Flags().StringVar(&backupFilename, "filename", "", "artifact file name (default is generated)")
		c.Flags().BoolVar(&backupEncrypt, "encrypt", false, "encrypt the artifact with the configured key")
		c.Flags().StringSliceVar(&backupBackends, "backends", nil, "upload targets: local, s3, ftp")
		backupCmd.AddCommand(c)
	}
	backupCmd.AddCommand(backupScheduledCmd)
}
