package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"
)

const (
	defaultFTPTimeout = 30 * time.Second
	ftpDialRetries    = 3
)

// FTPConfig holds the file transfer server settings.
type FTPConfig struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

// Configured reports whether enough settings are present to use the backend.
func (c FTPConfig) Configured() bool {
	return c.Addr != "" && c.User != ""
}

// ftpConn is the subset of *ftp.ServerConn used for an upload.
type ftpConn interface {
	Login(user, password string) error
	CurrentDir() (string, error)
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type ftpDialer func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FTP uploads artifacts to a file transfer server. Each upload opens its own
// connection and closes it before returning.
type FTP struct {
	cfg    FTPConfig
	dial   ftpDialer
	newBO  func() backoff.BackOff
	logger *zap.Logger
}

var _ Backend = (*FTP)(nil)

// FTPOption configures the FTP backend.
type FTPOption func(f *FTP) error

// WithFTPLogger sets the logger.
func WithFTPLogger(l *zap.Logger) FTPOption {
	return func(f *FTP) error {
		f.logger = l
		return nil
	}
}

// NewFTP returns an FTP backend for cfg.
func NewFTP(cfg FTPConfig, opts ...FTPOption) (*FTP, error) {
	if !cfg.Configured() {
		return nil, errors.New("ftp: address and user are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFTPTimeout
	}
	f := &FTP{
		cfg:  cfg,
		dial: dialFTP,
		newBO: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), ftpDialRetries)
		},
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		f.logger = l
	}
	return f, nil
}

func (f *FTP) Kind() string { return KindFTP }

func (f *FTP) connect(ctx context.Context) (ftpConn, error) {
	var conn ftpConn
	op := func() error {
		c, err := f.dial(ctx, f.cfg.Addr, f.cfg.Timeout)
		if err != nil {
			f.logger.Warn("FTP dial failed", zap.String("addr", f.cfg.Addr), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(f.newBO(), ctx)); err != nil {
		return nil, err
	}
	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, err
	}
	return conn, nil
}

// ensureDir creates dir and its parents, tolerating components that exist.
func ensureDir(c ftpConn, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	cwd, err := c.CurrentDir()
	if err != nil {
		return err
	}

	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur = path.Join(cur, part)
		if err := c.MakeDir(cur); err != nil {
			if cerr := c.ChangeDir(cur); cerr != nil {
				return err
			}
			if cerr := c.ChangeDir(cwd); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

func (f *FTP) Upload(ctx context.Context, localPath, remoteKey string) (*Destination, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	conn, err := f.connect(ctx)
	if err != nil {
		return nil, transportError(KindFTP, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			f.logger.Debug("FTP quit", zap.Error(err))
		}
	}()

	target := path.Join(f.cfg.Dir, path.Clean("/"+remoteKey)[1:])
	if err := ensureDir(conn, path.Dir(target)); err != nil {
		return nil, transportError(KindFTP, err)
	}
	if err := conn.Stor(target, file); err != nil {
		return nil, transportError(KindFTP, err)
	}
	return &Destination{Backend: KindFTP, Key: target}, nil
}
