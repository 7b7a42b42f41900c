package ledger

import (
	"bytes"
	"errors"
	"testing"

	"go.uber.org/zap"

	gofs "github.com/nbnode/ledgerstore/pkg/fs"
)

// newChaosFileStore builds a fileStore on top of a [gofs.Chaos] wrapping a
// real filesystem rooted at dir, so tests can drive a single fault axis
// while every other operation behaves like [gofs.Real].
func newChaosFileStore(dir string, cfg gofs.ChaosConfig) *fileStore {
	chaos := gofs.NewChaos(gofs.NewReal(), 1, &cfg)
	return newFileStore(chaos, dir, defaultCompressors(), 4)
}

// TestFileStore_SurvivesChaosFS_WithNoInjectedFaults exercises the full
// save/finalize/load path through [gofs.Chaos] with every fault rate at its
// zero value, so Chaos behaves as a transparent passthrough. This pins down
// that the store is built entirely against [gofs.FS] (§4.2's "The ledger
// store is built entirely against FS ... so its crash-safety properties can
// be exercised against Chaos in tests") rather than quietly depending on
// *gofs.Real internals.
func TestFileStore_SurvivesChaosFS_WithNoInjectedFaults(t *testing.T) {
	t.Parallel()

	chaos := gofs.NewChaos(gofs.NewReal(), 1, &gofs.ChaosConfig{})
	store := newFileStore(chaos, t.TempDir(), defaultCompressors(), 4)

	name := "0000000000-arf.bin"

	if err := store.save(name, []byte("payload"), true); err != nil {
		t.Fatalf("save: %v", err)
	}

	finalized, err := store.isFinalized(name)
	if err != nil {
		t.Fatalf("isFinalized: %v", err)
	}

	if !finalized {
		t.Fatalf("isFinalized = false, want true")
	}

	got, err := store.load(name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if string(got) != "payload" {
		t.Fatalf("load = %q, want %q", got, "payload")
	}

	if err := store.save(name, []byte("overwrite"), false); !errors.Is(err, ErrFinalizedFileWrite) {
		t.Fatalf("save after finalize: err=%v, want %v", err, ErrFinalizedFileWrite)
	}
}

// TestLedger_AddBlock_FailsCleanlyOnInjectedWriteFault drives block
// persistence through a Chaos filesystem configured to always fail writes.
// AddBlock must return an error rather than leave the store in a state
// where a later valid AddBlock for the same block number silently
// succeeds twice (§3 invariant 1: blocks are dense and globally unique).
func TestLedger_AddBlock_FailsCleanlyOnInjectedWriteFault(t *testing.T) {
	t.Parallel()

	chaos := gofs.NewChaos(gofs.NewReal(), 2, &gofs.ChaosConfig{WriteFailRate: 1})

	opts := DefaultOptions(t.TempDir())

	l, err := Open(chaos, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := l.AddBlock(testBlock(0)); err == nil {
		t.Fatalf("AddBlock with WriteFailRate=1: want error, got nil")
	}

	count, err := l.blocks.blockCount()
	if err != nil {
		t.Fatalf("blockCount: %v", err)
	}

	if count != 0 {
		t.Fatalf("blockCount after failed write = %d, want 0", count)
	}
}

// TestFileStore_Append_FailsCleanlyOnInjectedSyncFault drives a chunk append
// (§4.1 "append via copy-then-append") through a temp-file fsync failure.
// The persist must fail and must not leave a renamed-in, half-durable chunk
// behind: a follow-up load through a fault-free Chaos must still see the
// pre-append content (or nothing at all for a file that never existed).
func TestFileStore_Append_FailsCleanlyOnInjectedSyncFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "00000000000000000000-00000000000000000000-block-chunk.bin"

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.append(name, []byte("a"), false); err != nil {
		t.Fatalf("append (no faults): %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{SyncFailRate: 1})
	if err := faulty.append(name, []byte("b"), false); err == nil {
		t.Fatalf("append with SyncFailRate=1: want error, got nil")
	}

	got, err := clean.load(name)
	if err != nil {
		t.Fatalf("load after failed append: %v", err)
	}

	if string(got) != "a" {
		t.Fatalf("load after failed append = %q, want %q (pre-append content preserved)", got, "a")
	}
}

// TestFileStore_Persist_FailsCleanlyOnInjectedOpenFault drives the very
// first step of [fileStore.persist] — creating the scratch temp file — into
// failure. No chunk file should appear at all.
func TestFileStore_Persist_FailsCleanlyOnInjectedOpenFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{OpenFailRate: 1})
	if err := faulty.save(name, []byte("x"), false); err == nil {
		t.Fatalf("save with OpenFailRate=1: want error, got nil")
	}

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if _, err := clean.load(name); err == nil {
		t.Fatalf("load after failed save: want error (no file), got nil")
	}
}

// TestFileStore_Persist_FailsCleanlyOnInjectedMkdirAllFault covers the
// fan-out directory creation step (§4.2's fan-out path rewrite): if the
// chunk's parent directory can't be created, the write must fail before
// anything is renamed into place.
func TestFileStore_Persist_FailsCleanlyOnInjectedMkdirAllFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{MkdirAllFailRate: 1})
	if err := faulty.save(name, []byte("x"), false); err == nil {
		t.Fatalf("save with MkdirAllFailRate=1: want error, got nil")
	}
}

// TestFileStore_Move_FailsCleanlyOnInjectedRenameFault targets the chunk
// rollover rename in [blockStore.addBlock] ("grow it in place, then rename
// to reflect the new end"): if the logical rename fails, the old chunk name
// must still be readable under its old name (§4.6 crash recovery by
// re-scanning tolerates exactly this state).
func TestFileStore_Move_FailsCleanlyOnInjectedRenameFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save("a.bin", []byte("hi"), false); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{RenameFailRate: 1})
	if err := faulty.move("a.bin", "b.bin"); err == nil {
		t.Fatalf("move with RenameFailRate=1: want error, got nil")
	}

	got, err := clean.load("a.bin")
	if err != nil {
		t.Fatalf("load(a.bin) after failed move: %v", err)
	}

	if string(got) != "hi" {
		t.Fatalf("load(a.bin) after failed move = %q, want %q", got, "hi")
	}
}

// TestFileStore_IsFinalizedAbs_FailsCleanlyOnInjectedStatFault covers the
// finalization check every persist and load path depends on (§3 invariant
// 6): if the filesystem can't report whether a compressed sibling or the
// raw file exists, the caller must see an error rather than silently
// treating the file as unfinalized (which would let a write through to a
// file that's actually immutable).
func TestFileStore_IsFinalizedAbs_FailsCleanlyOnInjectedStatFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save(name, []byte("hello"), true); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{StatFailRate: 1})
	if _, err := faulty.isFinalized(name); err == nil {
		t.Fatalf("isFinalized with StatFailRate=1: want error, got nil")
	}
}

// TestFileStore_Finalize_FailsCleanlyOnInjectedChmodFault covers
// dropWritePermissions's chmod step: finalization must surface the failure
// rather than report success while the file is still writable.
func TestFileStore_Finalize_FailsCleanlyOnInjectedChmodFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	// Incompressible payload so selectCompression's winner is nil and
	// finalize goes straight to dropWritePermissions on the raw file.
	payload := []byte{0x00, 0x01, 0x02, 0x03}

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save(name, payload, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{ChmodFailRate: 1})
	if err := faulty.finalize(name); err == nil {
		t.Fatalf("finalize with ChmodFailRate=1: want error, got nil")
	}
}

// TestFileStore_Finalize_FailsCleanlyOnInjectedRemoveFault covers the last
// step of finalization — removing the raw file once its compressed sibling
// is durably written. A failure here must surface rather than be swallowed,
// even though the compressed sibling (the data that matters) is already in
// place.
func TestFileStore_Finalize_FailsCleanlyOnInjectedRemoveFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	// Highly compressible payload so selectCompression always picks a
	// winner and finalize reaches the raw-file Remove call.
	payload := bytes.Repeat([]byte("a"), 256)

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save(name, payload, false); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{RemoveFailRate: 1})
	if err := faulty.finalize(name); err == nil {
		t.Fatalf("finalize with RemoveFailRate=1: want error, got nil")
	}

	finalized, err := clean.isFinalized(name)
	if err != nil {
		t.Fatalf("isFinalized after failed finalize: %v", err)
	}

	if !finalized {
		t.Fatalf("isFinalized after failed finalize = false, want true (compressed sibling already written)")
	}
}

// TestFileStore_ListDirectory_FailsCleanlyOnInjectedReadDirFault covers
// chunk/snapshot enumeration (used by [blockStore.chunkMetas] on every
// addBlock and getByNumber call): a directory listing failure must
// propagate rather than be read as "store is empty".
func TestFileStore_ListDirectory_FailsCleanlyOnInjectedReadDirFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save("0000000000-arf.bin", []byte("x"), false); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{ReadDirFailRate: 1})
	if _, err := faulty.listDirectory(Ascending); err == nil {
		t.Fatalf("listDirectory with ReadDirFailRate=1: want error, got nil")
	}
}

// TestFileStore_Load_FailsCleanlyOnInjectedPartialReadFault covers the
// read side of §4.6's crash-safety model: a short read of chunk data must
// be reported as an error (never silently decoded as a truncated-but-valid
// chunk), distinct from the write-side partial/short-write faults already
// covered by [TestFileStore_Load_SurvivesWriteSidePartialFaults].
func TestFileStore_Load_FailsCleanlyOnInjectedPartialReadFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save(name, bytes.Repeat([]byte("x"), 64), false); err != nil {
		t.Fatalf("save: %v", err)
	}

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{PartialReadRate: 1})
	if _, err := faulty.load(name); err == nil {
		t.Fatalf("load with PartialReadRate=1: want error, got nil")
	}
}

// TestFileStore_Load_SurvivesWriteSidePartialFaults drives a save through
// partial/short writes on the temp file. Each injected partial write
// returns a non-nil error that [io.Copy] passes up, so writeAndSyncTempFile
// must fail and clean up
// the temp file rather than rename a truncated file into place: a later
// fault-free save to the same logical path must succeed and read back
// whole.
func TestFileStore_Load_SurvivesWriteSidePartialFaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"
	payload := bytes.Repeat([]byte("y"), 64)

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{PartialWriteRate: 1, ShortWriteRate: 1})
	if err := faulty.save(name, payload, false); err == nil {
		t.Fatalf("save with PartialWriteRate=1: want error, got nil")
	}

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	if err := clean.save(name, payload, false); err != nil {
		t.Fatalf("save after failed partial write: %v", err)
	}

	got, err := clean.load(name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("load = %d bytes, want %d bytes matching payload", len(got), len(payload))
	}
}

// TestFileStore_Persist_FailsOnInjectedCloseFault_ButRenamedContentSurvives
// covers the AtomicWriter's directory-fsync step (§4.6): the writer always
// syncs and closes the parent directory after rename, so a Close fault
// surfaces as a reported error even though the rename itself already landed
// the new content — a later fault-free read must still see it, since the
// failure is a durability-confirmation problem, not a data-loss one.
func TestFileStore_Persist_FailsOnInjectedCloseFault_ButRenamedContentSurvives(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "0000000000-arf.bin"

	faulty := newChaosFileStore(dir, gofs.ChaosConfig{CloseFailRate: 1})
	if err := faulty.save(name, []byte("hello"), false); err == nil {
		t.Fatalf("save with CloseFailRate=1: want error, got nil")
	}

	clean := newChaosFileStore(dir, gofs.ChaosConfig{})
	got, err := clean.load(name)
	if err != nil {
		t.Fatalf("load after close-fault save: %v", err)
	}

	if string(got) != "hello" {
		t.Fatalf("load after close-fault save = %q, want %q (rename already landed the content)", got, "hello")
	}
}

// TestBlockStore_GetByNumber_FailsCleanlyOnInjectedReadFault forces a disk
// read (via a cache sized to evict everything but the most recent block,
// the same pattern as [TestBlockStore_GetByNumber_ServesFromDiskAfterCacheEviction])
// and confirms a read failure on the chunk file propagates instead of
// silently returning (nil, nil) as if the block didn't exist.
func TestBlockStore_GetByNumber_FailsCleanlyOnInjectedReadFault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	seed := newBlockStoreAt(t, dir, 4, 16)
	for n := uint64(0); n < 4; n++ {
		if err := seed.addBlock(testBlock(n)); err != nil {
			t.Fatalf("addBlock(%d): %v", n, err)
		}
	}

	faulty := newChaosBlockStore(dir, 4, 1, gofs.ChaosConfig{ReadFailRate: 1}) // cache holds only 1 block

	if _, err := faulty.getByNumber(0); err == nil {
		t.Fatalf("getByNumber(0) with ReadFailRate=1: want error, got nil")
	}
}

func newBlockStoreAt(t *testing.T, dir string, chunkSize uint64, cacheSize int) *blockStore {
	t.Helper()

	files := newFileStore(gofs.NewReal(), dir, defaultCompressors(), 4)

	store, err := newBlockStore(files, GobCodec{}, chunkSize, cacheSize, zap.NewNop())
	if err != nil {
		t.Fatalf("newBlockStore: %v", err)
	}

	return store
}

func newChaosBlockStore(dir string, chunkSize uint64, cacheSize int, cfg gofs.ChaosConfig) *blockStore {
	chaos := gofs.NewChaos(gofs.NewReal(), 1, &cfg)
	files := newFileStore(chaos, dir, defaultCompressors(), 4)

	store, err := newBlockStore(files, GobCodec{}, chunkSize, cacheSize, zap.NewNop())
	if err != nil {
		panic(err)
	}

	return store
}
