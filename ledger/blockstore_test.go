package ledger

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	gofs "github.com/nbnode/ledgerstore/pkg/fs"
)

func newTestBlockStore(t *testing.T, chunkSize uint64) *blockStore {
	t.Helper()

	files := newFileStore(gofs.NewReal(), t.TempDir(), defaultCompressors(), 4)

	store, err := newBlockStore(files, GobCodec{}, chunkSize, 16, zap.NewNop())
	if err != nil {
		t.Fatalf("newBlockStore: %v", err)
	}

	return store
}

func testBlock(n uint64) *Block {
	return &Block{
		BlockNumber: n,
		Timestamp:   time.Unix(int64(n), 0).UTC(),
		Hash:        Hash("hash"),
		Signature:   Signature("sig"),
	}
}

func TestBlockStore_AddBlock_RejectsNonSequentialNumbers(t *testing.T) {
	t.Parallel()

	store := newTestBlockStore(t, 10)

	if err := store.addBlock(testBlock(1)); !errors.Is(err, ErrNonSequentialBlock) {
		t.Fatalf("addBlock(1) on empty store: err=%v, want %v", err, ErrNonSequentialBlock)
	}

	if err := store.addBlock(testBlock(0)); err != nil {
		t.Fatalf("addBlock(0): %v", err)
	}

	if err := store.addBlock(testBlock(2)); !errors.Is(err, ErrNonSequentialBlock) {
		t.Fatalf("addBlock(2) after 0: err=%v, want %v", err, ErrNonSequentialBlock)
	}
}

func TestBlockStore_AddBlock_FinalizesChunkAtBoundary(t *testing.T) {
	t.Parallel()

	store := newTestBlockStore(t, 2)

	for n := uint64(0); n < 2; n++ {
		if err := store.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	finalized, err := store.files.isFinalized(blockChunkFilename(0, 1))
	if err != nil {
		t.Fatalf("isFinalized: %v", err)
	}

	if !finalized {
		t.Fatalf("chunk [0,1] should be finalized once full")
	}

	if err := store.addBlock(testBlock(2)); err != nil {
		t.Fatalf("addBlock(2): %v", err)
	}

	finalized, err = store.files.isFinalized(blockChunkFilename(2, 2))
	if err != nil {
		t.Fatalf("isFinalized: %v", err)
	}

	if finalized {
		t.Fatalf("chunk [2,2] should still be open")
	}
}

func TestBlockStore_GetByNumber_ReturnsPersistedBlock(t *testing.T) {
	t.Parallel()

	store := newTestBlockStore(t, 10)

	for n := uint64(0); n < 5; n++ {
		if err := store.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	got, err := store.getByNumber(3)
	if err != nil {
		t.Fatalf("getByNumber(3): %v", err)
	}

	if got == nil || got.BlockNumber != 3 {
		t.Fatalf("getByNumber(3) = %+v, want BlockNumber=3", got)
	}

	missing, err := store.getByNumber(99)
	if err != nil {
		t.Fatalf("getByNumber(99): %v", err)
	}

	if missing != nil {
		t.Fatalf("getByNumber(99) = %+v, want nil", missing)
	}
}

func TestBlockStore_GetByNumber_ServesFromDiskAfterCacheEviction(t *testing.T) {
	t.Parallel()

	files := newFileStore(gofs.NewReal(), t.TempDir(), defaultCompressors(), 4)

	store, err := newBlockStore(files, GobCodec{}, 2, 1, zap.NewNop()) // cache holds only 1 block
	if err != nil {
		t.Fatalf("newBlockStore: %v", err)
	}

	for n := uint64(0); n < 4; n++ {
		if err := store.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	got, err := store.getByNumber(0)
	if err != nil {
		t.Fatalf("getByNumber(0): %v", err)
	}

	if got == nil || got.BlockNumber != 0 {
		t.Fatalf("getByNumber(0) = %+v, want BlockNumber=0", got)
	}
}

func TestBlockStore_Yield_AscendingAndDescending(t *testing.T) {
	t.Parallel()

	store := newTestBlockStore(t, 3)

	for n := uint64(0); n < 7; n++ {
		if err := store.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	var ascending []uint64

	err := store.yield(Ascending, func(b *Block) (bool, error) {
		ascending = append(ascending, b.BlockNumber)
		return true, nil
	})
	if err != nil {
		t.Fatalf("yield ascending: %v", err)
	}

	for i, n := range ascending {
		if n != uint64(i) {
			t.Fatalf("ascending[%d] = %d, want %d", i, n, i)
		}
	}

	var descending []uint64

	err = store.yield(Descending, func(b *Block) (bool, error) {
		descending = append(descending, b.BlockNumber)
		return true, nil
	})
	if err != nil {
		t.Fatalf("yield descending: %v", err)
	}

	for i, n := range descending {
		want := uint64(6 - i)
		if n != want {
			t.Fatalf("descending[%d] = %d, want %d", i, n, want)
		}
	}
}

func TestBlockStore_YieldFrom_StartsAtGivenBlockNumber(t *testing.T) {
	t.Parallel()

	store := newTestBlockStore(t, 3)

	for n := uint64(0); n < 7; n++ {
		if err := store.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	from := uint64(4)

	var got []uint64

	err := store.yieldFrom(&from, Ascending, func(b *Block) (bool, error) {
		got = append(got, b.BlockNumber)
		return true, nil
	})
	if err != nil {
		t.Fatalf("yieldFrom: %v", err)
	}

	want := []uint64{4, 5, 6}

	if len(got) != len(want) {
		t.Fatalf("yieldFrom = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("yieldFrom[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
