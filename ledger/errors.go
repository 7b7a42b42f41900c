package ledger

import "errors"

// Sentinel errors surfaced to callers (§6, §7 of the design).
var (
	// ErrBlockchainLocked is returned by a mutating call (add_block,
	// add_blockchain_state, clear) when another process already holds the
	// process lock on the base directory.
	ErrBlockchainLocked = errors.New("ledger: blockchain locked, probably it is being modified by another process")

	// ErrBlockchainUnlocked is returned by an internal persist step
	// (persist_block, persist_blockchain_state) that expects the process
	// lock to already be held and finds it is not.
	ErrBlockchainUnlocked = errors.New("ledger: blockchain was expected to be locked")

	// ErrFinalizedFileWrite is returned when a save/append targets a file
	// that has already been finalized (§3 invariant 6).
	ErrFinalizedFileWrite = errors.New("ledger: could not write to finalized file")

	// ErrValidation reports a record that violates a structural invariant:
	// missing fields, negative balances, overlapping schedules, and so on.
	ErrValidation = errors.New("ledger: validation error")

	// ErrInvalidSignature is surfaced by a CryptoProvider and propagated
	// unchanged; the store never inspects signatures itself.
	ErrInvalidSignature = errors.New("ledger: invalid message signature")

	// ErrInvalidPath is returned by the compressing file store when a path
	// is absolute or resolves outside the store's base directory.
	ErrInvalidPath = errors.New("ledger: invalid path")

	// ErrNonSequentialBlock is returned when AddBlock is given a block
	// number other than the next expected one (§3 invariant 1: blocks are
	// dense and globally unique).
	ErrNonSequentialBlock = errors.New("ledger: block number is not the next expected block")
)
