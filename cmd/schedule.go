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
	"strings"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-archiver/pkg/server"
)

var scheduleHeaders = []string{"State", "Expression", "Next", "Database", "Folders", "Encrypt", "Backends", "Retention Days"}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the scheduled backup plan.",
	Run: func(cmd *cobra.Command, args []string) {
		var resp server.ScheduleResponse
		if err := newAgentClient(addr).do(http.MethodGet, "/schedule", nil, &resp); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		formatter.Output(scheduleHeaders, scheduleRows(resp))
	},
}

func scheduleRows(resp server.ScheduleResponse) [][]string {
	next := "-"
	if resp.Next != nil {
		next = resp.Next.Local().Format(time.RFC3339)
	}
	return [][]string{{
		resp.State,
		resp.Expression,
		next,
		strconv.FormatBool(resp.Config.Database),
		strings.Join(resp.Config.Folders, ","),
		strconv.FormatBool(resp.Config.Encrypt),
		strings.Join(resp.Config.Backends, ","),
		strconv.Itoa(resp.Config.RetentionDays),
	}}
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
