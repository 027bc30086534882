package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	pg "github.com/habx/pg-commands"
	"go.uber.org/zap"

	"github.com/bizflycloud/bizfly-archiver/pkg/fsutil"
)

// PGCommands runs pg_dump and pg_restore. The password reaches the utilities
// through PGPASSWORD, never through the argument list.
type PGCommands struct {
	logger *zap.Logger
}

var _ Dumper = (*PGCommands)(nil)

// NewPGCommands returns a Dumper backed by the PostgreSQL client utilities.
func NewPGCommands(logger *zap.Logger) *PGCommands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGCommands{logger: logger}
}

func postgres(conn ConnParams) *pg.Postgres {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	return &pg.Postgres{
		Host:     conn.Host,
		Port:     port,
		DB:       conn.Name,
		Username: conn.User,
		Password: conn.Password,
	}
}

// Dump writes a custom-format dump of conn to outPath. The utility writes to
// outPath+".partial" which is renamed once it exited cleanly.
func (p *PGCommands) Dump(ctx context.Context, conn ConnParams, outPath string) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dump, err := pg.NewDump(postgres(conn))
	if err != nil {
		return fmt.Errorf("pg.NewDump: %w", err)
	}
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp := filepath.Base(outPath) + fsutil.PartialExt
	dump.SetPath(dir + string(os.PathSeparator))
	dump.SetFileName(tmp)

	p.logger.Info("Running pg_dump", zap.String("conn", conn.String()), zap.String("path", outPath))
	res := dump.Exec(pg.ExecOptions{StreamPrint: false})
	if res.Error != nil {
		_ = os.Remove(filepath.Join(dir, tmp))
		p.logger.Error("pg_dump failed", zap.Error(res.Error.Err), zap.String("output", res.Error.CmdOutput))
		return &ExecError{Op: "pg_dump", ExitCode: res.Error.ExitCode, Output: res.Error.CmdOutput, Err: res.Error.Err}
	}
	if err := os.Rename(filepath.Join(dir, tmp), outPath); err != nil {
		_ = os.Remove(filepath.Join(dir, tmp))
		return err
	}
	p.logger.Debug("pg_dump done", zap.String("output", res.Output))
	return nil
}

// restoreOptions are the pg_restore flags used for every restore. Existing
// objects are dropped before being recreated, and objects missing from the
// target are not an error. A fresh slice is returned on each call.
func restoreOptions() []string {
	return []string{"--no-owner", "--no-acl", "--clean", "--if-exists", "--exit-on-error"}
}

// Restore feeds the dump at inPath to pg_restore, replacing existing objects
// in every schema the dump contains.
func (p *PGCommands) Restore(ctx context.Context, conn ConnParams, inPath string) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(inPath); err != nil {
		return err
	}

	restore, err := pg.NewRestore(postgres(conn))
	if err != nil {
		return fmt.Errorf("pg.NewRestore: %w", err)
	}
	restore.Options = restoreOptions()
	// The library restricts the restore to the public schema unless told otherwise.
	restore.Schemas = nil

	p.logger.Info("Running pg_restore", zap.String("conn", conn.String()), zap.String("path", inPath))
	res := restore.Exec(inPath, pg.ExecOptions{StreamPrint: false})
	if res.Error != nil {
		p.logger.Error("pg_restore failed", zap.Error(res.Error.Err), zap.String("output", res.Error.CmdOutput))
		return &ExecError{Op: "pg_restore", ExitCode: res.Error.ExitCode, Output: res.Error.CmdOutput, Err: res.Error.Err}
	}
	p.logger.Debug("pg_restore done", zap.String("output", res.Output))
	return nil
}
