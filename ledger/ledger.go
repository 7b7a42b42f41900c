package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	gofs "github.com/nbnode/ledgerstore/pkg/fs"
	"github.com/nbnode/ledgerstore/pkg/lock"
)

const (
	blocksDirName    = "blocks"
	snapshotsDirName = "blockchain-states"
)

// Ledger is a durable, append-only store of [Block] and [BlockchainState]
// records (§1-§4). It is the single entry point of this package: callers
// open one with [Open], mutate it with [Ledger.AddBlock] and
// [Ledger.AddBlockchainState], and read it through the query methods in
// query.go.
//
// A Ledger is safe for concurrent use by multiple goroutines within one
// process. It is NOT safe for concurrent use across processes beyond the
// mutual exclusion the process lock already provides — only one process
// may hold the lock at a time (§4.8, §13 non-goals: no multi-writer
// concurrency within a process is assumed or needed, since the lock
// serializes mutators goroutine-side too).
type Ledger struct {
	opts Options

	blocks    *blockStore
	snapshots *snapshotStore
	locker    *lock.Locker
	lockPath  string
	logger    *zap.Logger

	mu      sync.Mutex
	current *lock.Lock // non-nil while this process holds the exclusive lock
}

// Open creates or opens a Ledger rooted at opts.BaseDirectory, using fsys
// for all filesystem access. Pass [gofs.NewReal] for production use, or a
// [gofs.Chaos]-wrapped filesystem in tests that exercise crash safety.
func Open(fsys gofs.FS, opts Options) (*Ledger, error) {
	opts = opts.withDefaults()

	if opts.BaseDirectory == "" {
		return nil, fmt.Errorf("ledger: BaseDirectory is required")
	}

	if err := fsys.MkdirAll(opts.BaseDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create base directory: %w", err)
	}

	blockFiles := newFileStore(fsys, filepath.Join(opts.BaseDirectory, blocksDirName), opts.Compressors, opts.FanoutDepth)
	snapshotFiles := newFileStore(fsys, filepath.Join(opts.BaseDirectory, snapshotsDirName), opts.Compressors, opts.FanoutDepth)

	blocks, err := newBlockStore(blockFiles, opts.Codec, opts.BlockChunkSize, opts.BlocksCacheSize, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	snapshots, err := newSnapshotStore(snapshotFiles, opts.Codec, opts.BlockchainStatesCacheSize, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	return &Ledger{
		opts:      opts,
		blocks:    blocks,
		snapshots: snapshots,
		locker:    lock.New(fsys),
		lockPath:  filepath.Join(opts.BaseDirectory, opts.LockFilename),
		logger:    opts.Logger,
	}, nil
}

// withLock runs fn while holding the exclusive process lock, failing fast
// (§4.8: mutators use TryLock, not a blocking wait) with
// [ErrBlockchainLocked] if another process already holds it.
func (l *Ledger) withLock(fn func() error) error {
	heldLock, err := l.locker.TryLock(l.lockPath)
	if err != nil {
		if errors.Is(err, lock.ErrWouldBlock) {
			return ErrBlockchainLocked
		}

		return fmt.Errorf("ledger: acquire lock: %w", err)
	}

	l.mu.Lock()
	l.current = heldLock
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()

		if closeErr := heldLock.Close(); closeErr != nil {
			l.logger.Warn("releasing ledger lock", zap.Error(closeErr))
		}
	}()

	return fn()
}

// requireLock asserts that this process currently holds the exclusive
// lock, for internal persist steps that must never run unguarded (§4.8).
func (l *Ledger) requireLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return ErrBlockchainUnlocked
	}

	return nil
}

// AddBlock validates and persists block (§4.6, §12). It acquires the
// process lock, failing fast with [ErrBlockchainLocked] if another process
// already holds it.
func (l *Ledger) AddBlock(block *Block) error {
	if err := block.Validate(); err != nil {
		return err
	}

	return l.withLock(func() error { return l.persistBlock(block) })
}

// persistBlock is the require_lock-guarded write path behind AddBlock; it
// is also used internally by anything that adds blocks while already
// holding the lock.
func (l *Ledger) persistBlock(block *Block) error {
	if err := l.requireLock(); err != nil {
		return err
	}

	return l.blocks.addBlock(block)
}

// AddBlockchainState validates and persists state (§4.5, §12).
func (l *Ledger) AddBlockchainState(state *BlockchainState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	return l.withLock(func() error { return l.persistBlockchainState(state) })
}

// persistBlockchainState is the require_lock-guarded write path behind
// AddBlockchainState.
func (l *Ledger) persistBlockchainState(state *BlockchainState) error {
	if err := l.requireLock(); err != nil {
		return err
	}

	return l.snapshots.persist(state)
}

// Clear removes every block and snapshot and invalidates both caches
// (§4.6: "caches ... invalidated only on clear()"). It is intended for
// tests and for rebuilding a ledger from scratch, not for production
// pruning — partial rewrites of finalized data are a non-goal (§13).
func (l *Ledger) Clear() error {
	return l.withLock(func() error {
		if err := l.blocks.files.clear(); err != nil {
			return err
		}

		if err := l.snapshots.files.clear(); err != nil {
			return err
		}

		l.blocks.clear()
		l.snapshots.clear()

		return nil
	})
}
