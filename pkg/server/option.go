package server

import (
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
	"github.com/bizflycloud/bizfly-archiver/pkg/scheduler"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithBroker returns an Option which set the server broker for async messaging.
func WithBroker(b broker.Broker) Option {
	return func(s *Server) error {
		s.b = b
		return nil
	}
}

// WithSubscribeTopics returns an Option which set the topics that server broker will subscribe to.
func WithSubscribeTopics(topics ...string) Option {
	return func(s *Server) error {
		s.subscribeTopics = topics
		return nil
	}
}

// WithService returns an Option which set the backup service jobs run on.
func WithService(svc *backup.Service) Option {
	return func(s *Server) error {
		s.svc = svc
		return nil
	}
}

// WithScheduler returns an Option which set the scheduler of scheduled backups.
func WithScheduler(sch *scheduler.Scheduler) Option {
	return func(s *Server) error {
		s.scheduler = sch
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
