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
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
	"github.com/bizflycloud/bizfly-archiver/pkg/broker/mqtt"
	"github.com/bizflycloud/bizfly-archiver/pkg/config"
	"github.com/bizflycloud/bizfly-archiver/pkg/database"
	"github.com/bizflycloud/bizfly-archiver/pkg/history"
	"github.com/bizflycloud/bizfly-archiver/pkg/notify"
	"github.com/bizflycloud/bizfly-archiver/pkg/scheduler"
	"github.com/bizflycloud/bizfly-archiver/pkg/server"
)

// agentCmd represents the agent command
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Fatal("invalid configuration", zap.Error(err))
		}

		store, err := history.Open(cfg.HistoryDir)
		if err != nil {
			logger.Fatal("failed to open history", zap.Error(err))
		}
		defer store.Close()

		cipher, err := cfg.Cipher()
		if err != nil {
			logger.Fatal("failed to create cipher", zap.Error(err))
		}
		backends, err := cfg.Backends(logger)
		if err != nil {
			logger.Fatal("failed to configure storage backends", zap.Error(err))
		}

		var b broker.Broker
		if cfg.BrokerURL != "" {
			b, err = mqtt.NewBroker(mqtt.WithURL(cfg.BrokerURL), mqtt.WithClientID(cfg.MachineID), mqtt.WithLogger(logger))
			if err != nil {
				logger.Fatal("failed to create broker", zap.Error(err))
			}
		}

		notifier, err := buildNotifier(cfg, b)
		if err != nil {
			logger.Fatal("failed to create notifier", zap.Error(err))
		}

		opts := []backup.Option{
			backup.WithLogger(logger),
			backup.WithBackends(backends),
			backup.WithNotifier(notifier),
		}
		if cfg.Database.Host != "" {
			opts = append(opts, backup.WithDatabase(cfg.Database, database.NewPGCommands(logger)))
		}
		if cipher != nil {
			opts = append(opts, backup.WithCipher(cipher))
		}
		svc, err := backup.New(cfg.ArtifactDir, store, opts...)
		if err != nil {
			logger.Fatal("failed to create backup service", zap.Error(err))
		}

		if removed, err := svc.SweepOrphans(context.Background(), cfg.OrphanGrace); err != nil {
			logger.Warn("failed to sweep orphan artifacts", zap.Error(err))
		} else if len(removed) > 0 {
			logger.Info("Removed orphan artifacts", zap.Strings("files", removed))
		}

		schedCfg, err := scheduler.LoadConfig(cfg.ScheduleFile)
		if err != nil {
			logger.Error("failed to load schedule, using defaults", zap.Error(err))
		}
		sch, err := scheduler.New(schedCfg, svc, scheduler.WithLogger(logger))
		if err != nil {
			logger.Fatal("failed to create scheduler", zap.Error(err))
		}
		if err := sch.Start(); err != nil {
			logger.Error("scheduled backups are disabled", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = sch.Stop(ctx)
		}()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloadOnSignal(hup, cfg.ScheduleFile, sch, logger)

		serverOpts := []server.Option{
			server.WithAddr(addr),
			server.WithService(svc),
			server.WithScheduler(sch),
			server.WithLogger(logger),
		}
		if b != nil {
			serverOpts = append(serverOpts,
				server.WithBroker(b),
				server.WithSubscribeTopics(broker.DefaultTopic, broker.AgentTopic(cfg.MachineID)),
			)
		}

		logger.Debug("Listening address: " + addr)
		s, err := server.New(serverOpts...)
		if err != nil {
			logger.Fatal("failed to create new server", zap.Error(err))
		}
		if err := s.Run(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run failed", zap.Error(err))
			os.Exit(1)
		}
	},
}

// reloadOnSignal re-reads the schedule file each time a signal arrives on
// sigs. A file that fails to load leaves the running schedule in place.
func reloadOnSignal(sigs <-chan os.Signal, path string, sch *scheduler.Scheduler, logger *zap.Logger) {
	for range sigs {
		cfg, err := scheduler.LoadConfig(path)
		if err != nil {
			logger.Error("failed to reload schedule, keeping the current one", zap.String("file", path), zap.Error(err))
			continue
		}
		if err := sch.Reload(cfg); err != nil {
			logger.Error("failed to apply reloaded schedule", zap.Error(err))
			continue
		}
		logger.Info("Reloaded schedule", zap.String("file", path), zap.String("schedule", cfg.Schedule))
	}
}

// buildNotifier fans notifications out to every configured channel. The log
// channel is always present.
func buildNotifier(cfg *config.Config, b broker.Broker) (notify.Notifier, error) {
	n := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify.WebhookURL != "" {
		w, err := notify.NewWebhook(cfg.Notify.WebhookURL)
		if err != nil {
			return nil, err
		}
		n = append(n, w)
	}

	nb := b
	if cfg.Notify.BrokerURL != "" && cfg.Notify.BrokerURL != cfg.BrokerURL {
		var err error
		nb, err = mqtt.NewBroker(mqtt.WithURL(cfg.Notify.BrokerURL), mqtt.WithClientID(cfg.MachineID+"-notify"), mqtt.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := nb.Connect(); err != nil {
			logger.Warn("notify broker is unreachable", zap.Error(err))
		}
	}
	if nb != nil {
		n = append(n, notify.NewBroker(nb, cfg.Notify.Topic, cfg.MachineID))
	}
	return n, nil
}

func init() {
	rootCmd.AddCommand(agentCmd)
}
