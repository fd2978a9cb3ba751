package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/ariesdb/src/bufferpool"
	"github.com/Blackdeer1524/ariesdb/src/cfg"
	"github.com/Blackdeer1524/ariesdb/src/recovery"
	"github.com/Blackdeer1524/ariesdb/src/storage/disk"
	"github.com/Blackdeer1524/ariesdb/src/txns"
)

const tracerName = "github.com/Blackdeer1524/ariesdb/src/app"

// DB wires the storage stack together: the disk space manager, the
// buffer pool, the transaction manager and the recovery manager that
// sits between them.
type DB struct {
	Disk     *disk.Manager
	Pool     *bufferpool.Manager
	Txns     *txns.Manager
	Recovery *recovery.Manager

	log    *zap.SugaredLogger
	tracer trace.Tracer
}

// OpenDB opens the database stored under config.DataDir and runs
// restart recovery. The returned DB accepts transactions.
func OpenDB(
	ctx context.Context,
	fs afero.Fs,
	config cfg.Config,
	log *zap.SugaredLogger,
) (db *DB, err error) {
	tracer := otel.Tracer(tracerName)

	ctx, span := tracer.Start(ctx, "app.open", trace.WithAttributes(
		attribute.String("data_dir", config.DataDir),
		attribute.Int64("buffer_pool_size", int64(config.BufferPoolSize)), //nolint:gosec
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	diskManager, err := disk.New(fs, config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open disk: %w", err)
	}

	logStore, err := recovery.OpenLogStore(diskManager, log.Named("wal"))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open log: %w", err), diskManager.Close())
	}

	pool := bufferpool.New(
		config.BufferPoolSize,
		bufferpool.NewLRUReplacer(),
		diskManager,
		log.Named("bufferpool"),
	)
	txnManager := txns.NewManager()

	rm := recovery.New(logStore, diskManager, pool, txnManager.Restore, log.Named("recovery"))
	pool.SetWALHooks(rm)

	if err := rm.Restart(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("restart: %w", err), diskManager.Close())
	}

	span.SetAttributes(attribute.String("phase", rm.Phase().String()))

	return &DB{
		Disk:     diskManager,
		Pool:     pool,
		Txns:     txnManager,
		Recovery: rm,
		log:      log,
		tracer:   tracer,
	}, nil
}

// Checkpoint takes a fuzzy checkpoint under its own span.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, span := db.tracer.Start(ctx, "app.checkpoint")
	defer span.End()

	if err := db.Recovery.Checkpoint(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	return nil
}

// RunCheckpointer takes a checkpoint every interval until ctx is done.
// A zero interval disables periodic checkpoints.
func (db *DB) RunCheckpointer(ctx context.Context, interval time.Duration) error {
	if interval == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := db.Checkpoint(ctx); err != nil {
				return fmt.Errorf("periodic checkpoint: %w", err)
			}

			db.log.Debugw("periodic checkpoint taken", "flushed_lsn", db.Recovery.FlushedLSN())
		}
	}
}

// Close writes the dirty pages back, takes a final checkpoint and
// closes the files.
func (db *DB) Close() error {
	var errs []error

	if err := db.Pool.FlushAllPages(); err != nil {
		errs = append(errs, fmt.Errorf("flush buffer pool: %w", err))
	}

	if err := db.Recovery.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recovery manager: %w", err))
	}

	if err := db.Disk.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close disk: %w", err))
	}

	return errors.Join(errs...)
}
