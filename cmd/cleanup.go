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

	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-archiver/pkg/server"
)

var cleanupMaxAge int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove local artifacts older than the retention window",
	Run: func(cmd *cobra.Command, args []string) {
		var resp struct {
			Removed []string `json:"removed"`
		}
		req := server.CleanupRequest{MaxAgeDays: cleanupMaxAge}
		if err := newAgentClient(addr).do(http.MethodPost, "/cleanup", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		fmt.Printf("%d old artifacts removed \n", len(resp.Removed))
		for _, item := range resp.Removed {
			fmt.Printf("removed %s \n", item)
		}
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupMaxAge, "max-age-days", 0, "retention window in days (default is the schedule's)")
	rootCmd.AddCommand(cleanupCmd)
}
