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
	"strings"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/bizfly-archiver/pkg/history"
)

var (
	historyLimit   int
	historyOffset  int
	historyHeaders = []string{"ID", "Type", "Status", "File", "Uploaded To", "Created At"}
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded backup, restore and cleanup operations.",
	Run: func(cmd *cobra.Command, args []string) {
		path := fmt.Sprintf("/history?limit=%d&offset=%d", historyLimit, historyOffset)
		var recs []history.Record
		if err := newAgentClient(addr).do(http.MethodGet, path, nil, &recs); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		formatter.Output(historyHeaders, historyRows(recs))
	},
}

func historyRows(recs []history.Record) [][]string {
	data := make([][]string, 0, len(recs))
	for _, r := range recs {
		file := ""
		if r.FilePath != nil {
			file = *r.FilePath
		}
		dests := make([]string, 0, len(r.UploadedTo))
		for _, d := range r.UploadedTo {
			dests = append(dests, d.String())
		}
		data = append(data, []string{
			r.ID,
			string(r.Type),
			r.Status(),
			file,
			strings.Join(dests, ","),
			r.CreatedAt.Local().Format(time.RFC3339),
		})
	}
	return data
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of records")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "number of newest records to skip")
	rootCmd.AddCommand(historyCmd)
}
