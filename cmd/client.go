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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	unixPrefix   = "unix://"
	httpPrefix   = "http://"
	requestLimit = 6 * time.Hour
)

// agentClient talks to a running agent over its unix socket or TCP address.
type agentClient struct {
	httpc   *http.Client
	baseURL string
}

func newAgentClient(addr string) *agentClient {
	if strings.HasPrefix(addr, unixPrefix) {
		sock := strings.TrimPrefix(addr, unixPrefix)
		return &agentClient{
			httpc: &http.Client{
				Timeout: requestLimit,
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
						var d net.Dialer
						return d.DialContext(ctx, "unix", sock)
					},
				},
			},
			baseURL: "http://unix",
		}
	}
	base := addr
	if !strings.HasPrefix(base, httpPrefix) && !strings.HasPrefix(base, "https://") {
		if strings.HasPrefix(base, ":") {
			base = "127.0.0.1" + base
		}
		base = httpPrefix + base
	}
	return &agentClient{
		httpc:   &http.Client{Timeout: requestLimit},
		baseURL: strings.TrimSuffix(base, "/"),
	}
}

// do sends body as JSON and decodes the response into out. Non 2xx
// responses are returned as errors carrying the agent's message.
func (c *agentClient) do(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("agent: %s (%d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("agent: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// absPaths resolves paths against the caller's working directory, since the
// agent resolves relative paths against its own.
func absPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		out = append(out, abs)
	}
	return out, nil
}
