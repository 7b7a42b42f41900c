package ledger

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// snapshotStore is the L5 "Snapshot store" of §4.5: one finalized file per
// [BlockchainState], named by [snapshotFilename] so that directory order
// equals logical (last_block_number) order, with a path-keyed LRU cache
// shared across readers and populated on read (§4.6).
type snapshotStore struct {
	files  *fileStore
	codec  Codec
	cache  *lru.Cache[string, *BlockchainState]
	logger *zap.Logger
}

func newSnapshotStore(files *fileStore, codec Codec, cacheSize int, logger *zap.Logger) (*snapshotStore, error) {
	cache, err := lru.New[string, *BlockchainState](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new snapshot store: %w", err)
	}

	return &snapshotStore{files: files, codec: codec, cache: cache, logger: logger}, nil
}

// persist writes state to its own file and finalizes it immediately:
// unlike block chunks, a snapshot is never appended to after it is written,
// so there is no open/rollover lifecycle (§4.5).
func (s *snapshotStore) persist(state *BlockchainState) error {
	data, err := s.codec.EncodeBlockchainState(state)
	if err != nil {
		return fmt.Errorf("persist blockchain state: %w", err)
	}

	name := snapshotFilename(state.LastBlockNumber)

	if err := s.files.save(name, data, true); err != nil {
		return fmt.Errorf("persist blockchain state: %w", err)
	}

	s.cache.Add(name, state)

	return nil
}

// load reads the snapshot file named name (as returned by [snapshotFilename]
// or by [snapshotStore.listNames]), serving from cache when possible (§4.6).
func (s *snapshotStore) load(name string) (*BlockchainState, error) {
	if state, ok := s.cache.Get(name); ok {
		return state, nil
	}

	data, err := s.files.load(name)
	if err != nil {
		return nil, fmt.Errorf("load blockchain state %q: %w", name, err)
	}

	state, err := s.codec.DecodeBlockchainState(data)
	if err != nil {
		return nil, fmt.Errorf("load blockchain state %q: %w", name, err)
	}

	s.cache.Add(name, state)

	return state, nil
}

// listNames returns every snapshot filename in the store, sorted per
// direction. Names that don't match [parseSnapshotFilename] are skipped and
// logged (§7).
func (s *snapshotStore) listNames(direction Direction) ([]string, error) {
	all, err := s.files.listDirectory(direction)
	if err != nil {
		return nil, fmt.Errorf("list blockchain states: %w", err)
	}

	names := make([]string, 0, len(all))

	for _, name := range all {
		if _, ok := parseSnapshotFilename(name); ok {
			names = append(names, name)
			continue
		}

		s.logger.Warn("skipping unparsable snapshot filename", zap.String("name", name))
	}

	return names, nil
}

// count returns the number of persisted snapshots.
func (s *snapshotStore) count() (int, error) {
	names, err := s.listNames(Unordered)
	if err != nil {
		return 0, err
	}

	return len(names), nil
}

// walk visits every snapshot in the given direction, stopping early if fn
// returns false or an error.
func (s *snapshotStore) walk(direction Direction, fn func(*BlockchainState) (bool, error)) error {
	names, err := s.listNames(direction)
	if err != nil {
		return err
	}

	for _, name := range names {
		state, err := s.load(name)
		if err != nil {
			return err
		}

		cont, err := fn(state)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return nil
}

// nearestAtOrBefore returns the snapshot with the greatest last_block_number
// not exceeding blockNumber, or the genesis snapshot if none qualifies and
// one exists, or (nil, nil) if the store is empty (§4.7, "nearest
// snapshot-≤N").
func (s *snapshotStore) nearestAtOrBefore(blockNumber uint64) (*BlockchainState, error) {
	names, err := s.listNames(Descending)
	if err != nil {
		return nil, err
	}

	var genesisName string

	for _, name := range names {
		meta, ok := parseSnapshotFilename(name)
		if !ok {
			continue
		}

		if meta.LastBlockNumber == nil {
			genesisName = name
			continue
		}

		if *meta.LastBlockNumber <= blockNumber {
			return s.load(name)
		}
	}

	if genesisName != "" {
		return s.load(genesisName)
	}

	return nil, nil
}

// genesis returns the genesis snapshot (last_block_number == nil), or
// (nil, nil) if none has been persisted yet. Genesis always sorts first
// among snapshot filenames (§4.3), so it is the first ascending name if
// present at all.
func (s *snapshotStore) genesis() (*BlockchainState, error) {
	names, err := s.listNames(Ascending)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, nil
	}

	meta, ok := parseSnapshotFilename(names[0])
	if !ok || meta.LastBlockNumber != nil {
		return nil, nil
	}

	return s.load(names[0])
}

// clear invalidates the cache. The underlying files are removed by the
// owning [Ledger] via the shared [fileStore.clear].
func (s *snapshotStore) clear() {
	s.cache.Purge()
}
