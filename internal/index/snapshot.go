package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/metrics"
)

// SnapshotPrefix namespaces index snapshots within a store.
const SnapshotPrefix = "index-"

const recoverTimeout = 2 * time.Minute

var errUnsaved = errors.New("current generation has unsaved changes")

// SnapshotStore persists snapshot blobs. Save must be atomic: a name is either
// absent or fully written. List returns names newest first.
type SnapshotStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Prune(ctx context.Context, prefix string, keep int) error
}

// SnapshotName builds a name that sorts newest first under descending order.
func SnapshotName(prefix string, at time.Time, id string) string {
	return fmt.Sprintf("%s%020d-%s", prefix, at.UnixNano(), id)
}

// Save persists the current generation and returns the snapshot name.
func (i *Index) Save(ctx context.Context) (string, error) {
	const op = "index.save"
	if i.store == nil {
		return "", domain.NewOpError(op, "", errors.New("no snapshot store configured"))
	}
	g := i.gen.Load()
	if g.bad.Load() {
		return "", domain.NewOpError(op, "", fmt.Errorf("%w: refusing to persist a corrupt generation", domain.ErrIndexCorruption))
	}
	data, err := encodeSnapshot(g, i.opts)
	if err != nil {
		metrics.IndexSnapshotsTotal.WithLabelValues("error").Inc()
		return "", domain.NewOpError(op, "", err)
	}
	name := SnapshotName(SnapshotPrefix, time.Now().UTC(), g.id.String())
	if err = i.store.Save(ctx, name, data); err != nil {
		metrics.IndexSnapshotsTotal.WithLabelValues("error").Inc()
		return "", domain.NewOpError(op, name, err)
	}
	metrics.IndexSnapshotsTotal.WithLabelValues("ok").Inc()
	i.mu.Lock()
	i.markSynced(name, g.seq)
	i.mu.Unlock()
	i.logger.Info("Index snapshot saved",
		zap.String("name", name),
		zap.Uint64("seq", g.seq),
		zap.Int("vectors", len(g.ids)),
		zap.Int("bytes", len(data)),
	)
	if i.opts.KeepSnapshots > 0 {
		if err = i.store.Prune(ctx, SnapshotPrefix, i.opts.KeepSnapshots); err != nil {
			i.logger.Warn("Snapshot prune failed", zap.Error(err))
		}
	}
	return name, nil
}

// Load installs the named snapshot as the current generation.
func (i *Index) Load(ctx context.Context, name string) error {
	const op = "index.load"
	if i.store == nil {
		return domain.NewOpError(op, name, errors.New("no snapshot store configured"))
	}
	g, err := i.fetch(ctx, name)
	if err != nil {
		return domain.NewOpError(op, name, err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.publish(g)
	i.markSynced(name, g.seq)
	return nil
}

// Recover installs the newest snapshot that decodes and verifies cleanly.
// It returns the snapshot name used.
func (i *Index) Recover(ctx context.Context) (string, error) {
	if i.store == nil {
		return "", domain.NewOpError("index.recover", "", errors.New("no snapshot store configured"))
	}
	return i.recoverFrom(ctx, nil)
}

// Refresh installs the newest stored snapshot when it is newer than the one
// this index last saved or installed, picking up snapshots written by other
// processes. It returns the installed name, or "" when the index is current.
// A generation with unsaved changes is never replaced.
func (i *Index) Refresh(ctx context.Context) (string, error) {
	const op = "index.refresh"
	if i.store == nil {
		return "", domain.NewOpError(op, "", errors.New("no snapshot store configured"))
	}
	names, err := i.store.List(ctx, SnapshotPrefix)
	if err != nil {
		return "", domain.NewOpError(op, "", fmt.Errorf("list snapshots: %w", err))
	}
	if len(names) == 0 {
		return "", nil
	}
	newest := names[0]
	i.mu.Lock()
	synced := i.synced
	i.mu.Unlock()
	// names sort chronologically
	if newest <= synced {
		return "", nil
	}

	g, err := i.fetch(ctx, newest)
	if err != nil {
		return "", domain.NewOpError(op, newest, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.synced != synced {
		return "", nil
	}
	if cur := i.gen.Load(); cur.seq != i.syncedSeq && !cur.bad.Load() {
		return "", domain.NewOpError(op, newest, errUnsaved)
	}
	i.publish(g)
	i.markSynced(newest, g.seq)
	i.logger.Info("Index refreshed from snapshot",
		zap.String("name", newest),
		zap.Uint64("seq", g.seq),
		zap.Int("vectors", len(g.ids)),
	)
	return newest, nil
}

// Dirty reports whether the current generation differs from the last
// snapshot saved or installed.
func (i *Index) Dirty() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.gen.Load().seq != i.syncedSeq
}

// markSynced records the snapshot matching generation seq. Callers hold mu.
func (i *Index) markSynced(name string, seq uint64) {
	if name > i.synced {
		i.synced = name
	}
	i.syncedSeq = seq
}

// recoverFrom replaces the current generation only if it is still expected
// (nil means unconditionally).
func (i *Index) recoverFrom(ctx context.Context, expected *generation) (string, error) {
	const op = "index.recover"
	names, err := i.store.List(ctx, SnapshotPrefix)
	if err != nil {
		metrics.IndexRecoveriesTotal.WithLabelValues("error").Inc()
		return "", domain.NewOpError(op, "", fmt.Errorf("list snapshots: %w", err))
	}
	for _, name := range names {
		g, ferr := i.fetch(ctx, name)
		if ferr != nil {
			if ctxErr := domain.FromContext(ctx); ctxErr != nil {
				return "", domain.NewOpError(op, name, ctxErr)
			}
			i.logger.Warn("Skipping unusable snapshot", zap.String("name", name), zap.Error(ferr))
			continue
		}

		i.mu.Lock()
		if expected != nil && i.gen.Load() != expected {
			i.mu.Unlock()
			return "", errSuperseded
		}
		i.publish(g)
		i.markSynced(name, g.seq)
		i.mu.Unlock()

		metrics.IndexRecoveriesTotal.WithLabelValues("ok").Inc()
		i.logger.Info("Index restored from snapshot",
			zap.String("name", name),
			zap.Uint64("seq", g.seq),
			zap.Int("vectors", len(g.ids)),
		)
		return name, nil
	}
	metrics.IndexRecoveriesTotal.WithLabelValues("error").Inc()
	return "", domain.NewOpError(op, "", fmt.Errorf("%w: no valid snapshot among %d", domain.ErrIndexCorruption, len(names)))
}

// fetch loads and verifies a snapshot against this index's options.
func (i *Index) fetch(ctx context.Context, name string) (*generation, error) {
	data, err := i.store.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	g, h, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	if err := i.compatible(h); err != nil {
		return nil, err
	}
	if i.opts.Mode == ModeExact {
		g.ivf = nil
	}
	return g, nil
}

func (i *Index) compatible(h Header) error {
	if h.Dimensions != i.opts.Dimensions || h.Metric != i.opts.Metric {
		return fmt.Errorf("%w: snapshot is %d-d %s, index is %d-d %s", domain.ErrInvalidInput,
			h.Dimensions, h.Metric, i.opts.Dimensions, i.opts.Metric)
	}
	return nil
}

// Verify decodes the named snapshot and checks it against this index
// without installing it.
func (i *Index) Verify(ctx context.Context, name string) (Header, error) {
	const op = "index.verify"
	if i.store == nil {
		return Header{}, domain.NewOpError(op, name, errors.New("no snapshot store configured"))
	}
	data, err := i.store.Load(ctx, name)
	if err != nil {
		return Header{}, domain.NewOpError(op, name, fmt.Errorf("load: %w", err))
	}
	_, h, err := decodeSnapshot(data)
	if err != nil {
		return Header{}, domain.NewOpError(op, name, err)
	}
	if err := i.compatible(h); err != nil {
		return h, domain.NewOpError(op, name, err)
	}
	return h, nil
}
