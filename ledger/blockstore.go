package ledger

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// blockStore is the L6 "Block store" of §4.6: blocks are packed into
// fixed-size chunk files named by their [start, end] block range
// ([blockChunkFilename]), appended to one block at a time and renamed to
// reflect the growing range, then finalized (compressed, made immutable)
// the instant a chunk reaches block_chunk_size blocks. A block-number-keyed
// LRU cache is shared across readers and populated on read.
type blockStore struct {
	files     *fileStore
	codec     Codec
	chunkSize uint64
	cache     *lru.Cache[uint64, *Block]
	logger    *zap.Logger
}

func newBlockStore(files *fileStore, codec Codec, chunkSize uint64, cacheSize int, logger *zap.Logger) (*blockStore, error) {
	cache, err := lru.New[uint64, *Block](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new block store: %w", err)
	}

	return &blockStore{files: files, codec: codec, chunkSize: chunkSize, cache: cache, logger: logger}, nil
}

// chunkMetas returns every recognized chunk's parsed meta, sorted by start
// block number (ascending or descending per direction). Unparsable names
// are skipped and logged (§7).
func (s *blockStore) chunkMetas(direction Direction) ([]blockChunkMeta, error) {
	names, err := s.files.listDirectory(Unordered)
	if err != nil {
		return nil, fmt.Errorf("list block chunks: %w", err)
	}

	metas := make([]blockChunkMeta, 0, len(names))

	for _, name := range names {
		meta, ok := parseBlockChunkFilename(name)
		if !ok {
			s.logger.Warn("skipping unparsable block chunk filename", zap.String("name", name))
			continue
		}

		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Start < metas[j].Start })

	if direction == Descending {
		for i, j := 0, len(metas)-1; i < j; i, j = i+1, j-1 {
			metas[i], metas[j] = metas[j], metas[i]
		}
	}

	return metas, nil
}

// latestChunk returns the meta of the chunk with the greatest start block
// number — the only chunk that can still be open for appends, since every
// earlier chunk is necessarily full and finalized.
func (s *blockStore) latestChunk() (meta blockChunkMeta, ok bool, err error) {
	metas, err := s.chunkMetas(Descending)
	if err != nil {
		return blockChunkMeta{}, false, err
	}

	if len(metas) == 0 {
		return blockChunkMeta{}, false, nil
	}

	return metas[0], true, nil
}

// blockCount returns the dense block count: one past the highest persisted
// block number, or 0 if the store is empty (§3 invariant 1).
func (s *blockStore) blockCount() (uint64, error) {
	meta, ok, err := s.latestChunk()
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, nil
	}

	return meta.End + 1, nil
}

// addBlock appends block to its chunk, creating and/or finalizing chunks as
// needed (§4.6 "persist_block"). block.BlockNumber must equal the current
// blockCount(); anything else violates the dense, globally-unique block
// number invariant.
func (s *blockStore) addBlock(block *Block) error {
	count, err := s.blockCount()
	if err != nil {
		return err
	}

	if block.BlockNumber != count {
		return fmt.Errorf("%w: got %d, expected %d", ErrNonSequentialBlock, block.BlockNumber, count)
	}

	chunkStart := (block.BlockNumber / s.chunkSize) * s.chunkSize

	encoded, err := s.codec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("add block %d: %w", block.BlockNumber, err)
	}

	record := encodeChunkRecord(encoded)

	latest, hasChunk, err := s.latestChunk()
	if err != nil {
		return err
	}

	newName := blockChunkFilename(chunkStart, block.BlockNumber)

	if hasChunk && latest.Start == chunkStart {
		// Appending to the chunk currently being filled: grow it in place,
		// then rename to reflect the new end.
		oldName := blockChunkFilename(latest.Start, latest.End)

		if err := s.files.append(oldName, record, false); err != nil {
			return fmt.Errorf("add block %d: %w", block.BlockNumber, err)
		}

		if oldName != newName {
			if err := s.files.move(oldName, newName); err != nil {
				return fmt.Errorf("add block %d: %w", block.BlockNumber, err)
			}
		}
	} else {
		// First block of a fresh chunk: the file doesn't exist yet, so
		// append creates it directly under its single-block name.
		if err := s.files.append(newName, record, false); err != nil {
			return fmt.Errorf("add block %d: %w", block.BlockNumber, err)
		}
	}

	if block.BlockNumber == chunkStart+s.chunkSize-1 {
		if err := s.files.finalize(newName); err != nil {
			return fmt.Errorf("add block %d: finalize chunk: %w", block.BlockNumber, err)
		}

		s.logger.Debug("finalized block chunk", zap.Uint64("start", chunkStart), zap.Uint64("end", block.BlockNumber))
	}

	s.cache.Add(block.BlockNumber, block)

	return nil
}

// loadChunkBlocks returns every block in the chunk described by meta, in
// ascending block-number order. If every block in the chunk's range is
// already cached, it is assembled with zero disk I/O (§4.6 "zero-I/O fast
// path"); otherwise the whole chunk is decoded from disk and the cache is
// repopulated.
func (s *blockStore) loadChunkBlocks(meta blockChunkMeta) ([]*Block, error) {
	blocks := make([]*Block, 0, meta.End-meta.Start+1)
	fullyCached := true

	for n := meta.Start; n <= meta.End; n++ {
		b, ok := s.cache.Get(n)
		if !ok {
			fullyCached = false
			break
		}

		blocks = append(blocks, b)
	}

	if fullyCached {
		return blocks, nil
	}

	name := blockChunkFilename(meta.Start, meta.End)

	data, err := s.files.load(name)
	if err != nil {
		return nil, fmt.Errorf("load block chunk %q: %w", name, err)
	}

	decoded, err := decodeChunkBlocks(s.codec, data)
	if err != nil {
		return nil, fmt.Errorf("load block chunk %q: %w", name, err)
	}

	for _, b := range decoded {
		s.cache.Add(b.BlockNumber, b)
	}

	return decoded, nil
}

// getByNumber returns the block with the given number, or (nil, nil) if no
// chunk covers it.
func (s *blockStore) getByNumber(blockNumber uint64) (*Block, error) {
	if b, ok := s.cache.Get(blockNumber); ok {
		return b, nil
	}

	metas, err := s.chunkMetas(Ascending)
	if err != nil {
		return nil, err
	}

	for _, meta := range metas {
		if blockNumber < meta.Start || blockNumber > meta.End {
			continue
		}

		blocks, err := s.loadChunkBlocks(meta)
		if err != nil {
			return nil, err
		}

		for _, b := range blocks {
			if b.BlockNumber == blockNumber {
				return b, nil
			}
		}
	}

	return nil, nil
}

// yield walks every block in direction order, invoking fn until it returns
// false or an error.
func (s *blockStore) yield(direction Direction, fn func(*Block) (bool, error)) error {
	return s.yieldFrom(nil, direction, fn)
}

// yieldFrom is like yield but, when from is non-nil, starts at that block
// number (inclusive) instead of at the start of the store (§4.6 "cache-aware
// bidirectional iteration").
func (s *blockStore) yieldFrom(from *uint64, direction Direction, fn func(*Block) (bool, error)) error {
	metas, err := s.chunkMetas(direction)
	if err != nil {
		return err
	}

	for _, meta := range metas {
		if from != nil {
			if direction != Descending && meta.End < *from {
				continue
			}

			if direction == Descending && meta.Start > *from {
				continue
			}
		}

		blocks, err := s.loadChunkBlocks(meta)
		if err != nil {
			return err
		}

		if direction == Descending {
			for i, j := 0, len(blocks)-1; i < j; i, j = i+1, j-1 {
				blocks[i], blocks[j] = blocks[j], blocks[i]
			}
		}

		for _, b := range blocks {
			if from != nil {
				if direction != Descending && b.BlockNumber < *from {
					continue
				}

				if direction == Descending && b.BlockNumber > *from {
					continue
				}
			}

			cont, err := fn(b)
			if err != nil {
				return err
			}

			if !cont {
				return nil
			}
		}
	}

	return nil
}

// clear invalidates the cache. The underlying files are removed by the
// owning [Ledger] via the shared [fileStore.clear].
func (s *blockStore) clear() {
	s.cache.Purge()
}
