package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"github.com/goccy/go-json"
	"github.com/jpillora/backoff"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/backup"
	"github.com/bizflycloud/bizfly-archiver/pkg/broker"
	"github.com/bizflycloud/bizfly-archiver/pkg/envelope"
	"github.com/bizflycloud/bizfly-archiver/pkg/scheduler"
)

const defaultHistoryLimit = 50

// Server exposes the backup jobs over HTTP and broker events.
type Server struct {
	Addr            string
	router          *chi.Mux
	b               broker.Broker
	subscribeTopics []string
	useUnixSock     bool
	svc             *backup.Service
	scheduler       *scheduler.Scheduler

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.svc == nil {
		return nil, errors.New("server: backup service is required")
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Route("/backups", func(r chi.Router) {
		r.Get("/", s.ListArtifacts)
		r.Get("/entries", s.ListEntries)
		r.Post("/database", s.BackupDatabase)
		r.Post("/files", s.BackupFiles)
		r.Post("/scheduled", s.BackupScheduled)
	})

	s.router.Route("/restore", func(r chi.Router) {
		r.Post("/database", s.RestoreDatabase)
		r.Post("/files", s.RestoreFiles)
	})

	s.router.Post("/cleanup", s.Cleanup)
	s.router.Get("/history", s.History)
	s.router.Get("/schedule", s.Schedule)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// BackupRequest is the body of backup requests.
type BackupRequest struct {
	Filename string   `json:"filename"`
	Folders  []string `json:"folders"`
	Encrypt  bool     `json:"encrypt"`
	Backends []string `json:"backends"`
}

// RestoreRequest is the body of restore requests.
type RestoreRequest struct {
	ArtifactPath string   `json:"artifact_path"`
	DestFolder   string   `json:"dest_folder"`
	Files        []string `json:"files"`
}

// CleanupRequest is the body of cleanup requests.
type CleanupRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

// ScheduleResponse describes the scheduler.
type ScheduleResponse struct {
	Config     scheduler.Config `json:"config"`
	State      string           `json:"state"`
	Expression string           `json:"expression"`
	Next       *time.Time       `json:"next,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, backup.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, backup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backup.ErrBusy), errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, envelope.ErrIntegrity):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", backup.ErrConfiguration, err)
	}
	return nil
}

func (s *Server) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	arts, err := s.svc.Artifacts()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if arts == nil {
		arts = []backup.ArtifactInfo{}
	}
	writeJSON(w, http.StatusOK, arts)
}

// ListEntries lists the files inside the bundle named by the path query
// parameter, decrypting it first when needed.
func (s *Server) ListEntries(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, fmt.Errorf("%w: path query parameter is required", backup.ErrConfiguration))
		return
	}
	entries, err := s.svc.Entries(r.Context(), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []string{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) BackupDatabase(w http.ResponseWriter, r *http.Request) {
	var req BackupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	art, err := s.svc.RunDatabaseBackup(r.Context(), backup.Options{Filename: req.Filename, Encrypt: req.Encrypt, Backends: req.Backends})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, art)
}

func (s *Server) BackupFiles(w http.ResponseWriter, r *http.Request) {
	var req BackupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	art, err := s.svc.RunFilesBackup(r.Context(), req.Folders, backup.Options{Filename: req.Filename, Encrypt: req.Encrypt, Backends: req.Backends})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, art)
}

func (s *Server) BackupScheduled(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.writeError(w, fmt.Errorf("%w: scheduler is not running", backup.ErrConfiguration))
		return
	}
	res, err := s.scheduler.RunNow(r.Context())
	if err != nil && res == nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (s *Server) RestoreDatabase(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.RestoreDatabase(r.Context(), req.ArtifactPath); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) RestoreFiles(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	written, err := s.svc.RestoreFiles(r.Context(), req.ArtifactPath, req.DestFolder, backup.RestoreOptions{Files: req.Files})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "restored", "files": written})
}

func (s *Server) retentionDays(requested int) int {
	if requested > 0 {
		return requested
	}
	if s.scheduler != nil && s.scheduler.Config().RetentionDays > 0 {
		return s.scheduler.Config().RetentionDays
	}
	return scheduler.DefaultRetentionDays
}

func (s *Server) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	removed, err := s.svc.CleanOldArtifacts(r.Context(), s.retentionDays(req.MaxAgeDays))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", backup.ErrConfiguration, key, v)
	}
	return n, nil
}

func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.svc.History(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) Schedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, ScheduleResponse{Config: scheduler.DefaultConfig(), State: scheduler.StateDisabled.String()})
		return
	}
	resp := ScheduleResponse{
		Config:     s.scheduler.Config(),
		State:      s.scheduler.State().String(),
		Expression: s.scheduler.Expression(),
	}
	if next := s.scheduler.Next(); !next.IsZero() {
		resp.Next = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBrokerEvent(e broker.Event) error {
	msg, err := e.Message()
	if err != nil {
		return err
	}
	s.logger.Debug("Got broker event", zap.String("event_type", msg.EventType))

	ctx := context.Background()
	opts := backup.Options{Filename: msg.Filename, Backends: msg.Backends}
	if msg.Encrypt != nil {
		opts.Encrypt = *msg.Encrypt
	}

	switch msg.EventType {
	case broker.BackupDatabase:
		_, err = s.svc.RunDatabaseBackup(ctx, opts)
	case broker.BackupFiles:
		_, err = s.svc.RunFilesBackup(ctx, msg.Folders, opts)
	case broker.BackupScheduled:
		if s.scheduler == nil {
			return fmt.Errorf("%w: scheduler is not running", backup.ErrConfiguration)
		}
		_, err = s.scheduler.RunNow(ctx)
	case broker.RestoreDatabase:
		err = s.svc.RestoreDatabase(ctx, msg.ArtifactPath)
	case broker.RestoreFiles:
		_, err = s.svc.RestoreFiles(ctx, msg.ArtifactPath, msg.DestFolder, backup.RestoreOptions{Files: msg.Files})
	case broker.Cleanup:
		_, err = s.svc.CleanOldArtifacts(ctx, s.retentionDays(msg.MaxAgeDays))
	case broker.StatusNotify:
	default:
		return fmt.Errorf("Event %s: %w", msg.EventType, broker.ErrUnknownEventType)
	}
	return err
}

// connectBroker connects and subscribes, retrying with backoff until it
// succeeds or ctx is done. The broker resubscribes on reconnect by itself.
func (s *Server) connectBroker(ctx context.Context) {
	if s.b == nil || len(s.subscribeTopics) == 0 {
		return
	}
	b := &backoff.Backoff{Jitter: true, Max: time.Minute}
	for {
		err := s.b.ConnectAndSubscribe(s.handleBrokerEvent, s.subscribeTopics)
		if err == nil {
			s.logger.Info("Subscribed to broker", zap.Strings("topics", s.subscribeTopics))
			return
		}
		d := b.Duration()
		s.logger.Error("Connect to broker", zap.Error(err), zap.Duration("retry_in", d))
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	go s.connectBroker(baseCtx)

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c
		s.logger.Info("shutting down...")

		if err := valv.Shutdown(20 * time.Second); err != nil {
			s.logger.Error("failed to shutdown valv")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown http server")
		}
		if s.b != nil {
			_ = s.b.Disconnect()
		}
	}()

	if s.useUnixSock {
		_ = os.Remove(s.Addr)
		unixListener, err := net.Listen("unix", s.Addr)
		if err != nil {
			return err
		}
		return srv.Serve(unixListener)
	}

	srv.Addr = s.Addr
	return srv.ListenAndServe()
}
