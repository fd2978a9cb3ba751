package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/cfg"
	"github.com/Blackdeer1524/ariesdb/src/pkg/common"
	"github.com/Blackdeer1524/ariesdb/src/recovery"
	"github.com/Blackdeer1524/ariesdb/src/storage/disk"
)

// DBEntrypoint opens the database, keeps taking periodic checkpoints
// and shuts the database down cleanly on interrupt.
type DBEntrypoint struct {
	ConfigPath string
	// Fs defaults to the OS file system.
	Fs afero.Fs

	cfg cfg.Config
	log *zap.SugaredLogger
	db  *DB
}

func (e *DBEntrypoint) Init(ctx context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e.cfg = config
	e.log = NewLogger(config.Environment)

	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}

	e.db, err = OpenDB(ctx, e.Fs, config, e.log)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	e.log.Infow("database opened", "data_dir", config.DataDir)

	return nil
}

func (e *DBEntrypoint) Run(ctx context.Context) error {
	return e.db.RunCheckpointer(ctx, e.cfg.CheckpointInterval)
}

func (e *DBEntrypoint) Close() (err error) {
	if e.db != nil {
		err = e.db.Close()
	}

	if e.log != nil {
		if err != nil {
			e.log.Errorw("failed to close database", zap.Error(err))
		} else {
			e.log.Info("database closed")
		}

		// syncing stderr fails on some platforms
		_ = e.log.Sync()
	}

	return
}

func (e *DBEntrypoint) DB() *DB {
	return e.db
}

// DumpLog prints the log of the database stored under dataDir without
// running recovery. A torn log tail is truncated on open.
func DumpLog(fs afero.Fs, dataDir string, start common.LSN, w io.Writer) (err error) {
	d, err := disk.New(fs, dataDir)
	if err != nil {
		return fmt.Errorf("open disk: %w", err)
	}
	defer func() {
		err = errors.Join(err, d.Close())
	}()

	logStore, err := recovery.OpenLogStore(d, zap.NewNop().Sugar())
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	if logStore.IsEmpty() {
		_, err := fmt.Fprintln(w, "log is empty")
		return err
	}

	return logStore.Dump(start, w)
}
