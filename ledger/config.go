package ledger

import "go.uber.org/zap"

// Options configures a [Ledger] (§6). Zero-value fields are replaced by
// their default from [DefaultOptions] when passed to [Open].
type Options struct {
	// BaseDirectory is the root of the ledger's on-disk tree. Required.
	BaseDirectory string

	// BlockChunkSize is the number of blocks packed into one chunk file
	// before it is finalized. Default: 100.
	BlockChunkSize uint64

	// SnapshotPeriodInBlocks is how often (in block numbers) a
	// BlockchainState snapshot is expected to be taken. The store does not
	// enforce this itself — callers decide when to call AddBlockchainState
	// — but query.go's nearest-snapshot search is only as fast as this
	// period is short. Forced equal to BlockChunkSize per §6, so a
	// snapshot lands on every chunk boundary.
	SnapshotPeriodInBlocks uint64

	// BlocksCacheSize bounds the block LRU cache, keyed by block number.
	// Default: 2 * BlockChunkSize.
	BlocksCacheSize int

	// BlockchainStatesCacheSize bounds the snapshot LRU cache, keyed by
	// file name. Default: 128.
	BlockchainStatesCacheSize int

	// Compressors is the ordered list of compression codecs tried at
	// finalization time. Default: gzip, zstd, snappy (see compress.go).
	Compressors []compressor

	// FanoutDepth is the number of single-character fan-out subdirectories
	// (§4.2, §9). Default: 8.
	FanoutDepth int

	// LockFilename names the process lock file, relative to BaseDirectory.
	// Default: "file.lock".
	LockFilename string

	// Codec serializes blocks and snapshots. Default: [GobCodec].
	Codec Codec

	// Logger receives structured diagnostic events (chunk/snapshot names
	// skipped during enumeration, chunk finalization, overlapping primary
	// validator schedules, a failed lock release). A nil Logger is replaced
	// with [zap.NewNop].
	Logger *zap.Logger
}

// DefaultOptions returns Options with every zero-value field filled in,
// except BaseDirectory which the caller must always set.
func DefaultOptions(baseDirectory string) Options {
	const defaultChunkSize = 100

	return Options{
		BaseDirectory:             baseDirectory,
		BlockChunkSize:            defaultChunkSize,
		SnapshotPeriodInBlocks:    defaultChunkSize,
		BlocksCacheSize:           2 * defaultChunkSize,
		BlockchainStatesCacheSize: 128,
		Compressors:               defaultCompressors(),
		FanoutDepth:               8,
		LockFilename:              "file.lock",
		Codec:                     GobCodec{},
		Logger:                    zap.NewNop(),
	}
}

// withDefaults fills any zero-value field of opts from [DefaultOptions].
func (opts Options) withDefaults() Options {
	defaults := DefaultOptions(opts.BaseDirectory)

	if opts.BlockChunkSize == 0 {
		opts.BlockChunkSize = defaults.BlockChunkSize
	}

	// Not a zero-fill: the snapshot period always follows the chunk size.
	opts.SnapshotPeriodInBlocks = opts.BlockChunkSize

	if opts.BlocksCacheSize == 0 {
		opts.BlocksCacheSize = 2 * int(opts.BlockChunkSize)
	}

	if opts.BlockchainStatesCacheSize == 0 {
		opts.BlockchainStatesCacheSize = defaults.BlockchainStatesCacheSize
	}

	if opts.Compressors == nil {
		opts.Compressors = defaults.Compressors
	}

	if opts.FanoutDepth == 0 {
		opts.FanoutDepth = defaults.FanoutDepth
	}

	if opts.LockFilename == "" {
		opts.LockFilename = defaults.LockFilename
	}

	if opts.Codec == nil {
		opts.Codec = defaults.Codec
	}

	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}

	return opts
}
