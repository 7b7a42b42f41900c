package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountID identifies an account. The original system uses a hex-encoded
// public key; this repo models it as a UUID, which is opaque to the store in
// exactly the same way (§1: "the store treats hashes as opaque hex strings" —
// account identifiers are equally opaque).
type AccountID = uuid.UUID

// Hash is an opaque, hex-encoded digest produced by an external
// CryptoProvider. The store never interprets its bytes.
type Hash string

// Signature is an opaque signature produced by an external CryptoProvider.
type Signature string

// URL is a network address for a [Node]. Kept as a plain string rather than
// *url.URL: the store only stores and compares these, it never dials them.
type URL string

// Schedule is the block-number window during which an account's node is the
// primary validator (§3, "primary_validator_schedule").
type Schedule struct {
	BeginBlockNumber uint64
	EndBlockNumber   uint64
}

// Contains reports whether blockNumber falls within the schedule's window,
// inclusive on both ends.
func (s Schedule) Contains(blockNumber uint64) bool {
	return blockNumber >= s.BeginBlockNumber && blockNumber <= s.EndBlockNumber
}

// Overlaps reports whether two schedules share any block number.
func (s Schedule) Overlaps(other Schedule) bool {
	return s.BeginBlockNumber <= other.EndBlockNumber && other.BeginBlockNumber <= s.EndBlockNumber
}

// Node describes the network identity of a validator candidate (§3).
type Node struct {
	Identifier      AccountID
	NetworkAddresses []URL
	FeeAmount       uint64
	FeeAccount      AccountID
}

// AccountState is the independently-addressable, per-account slice of a
// [BlockchainState] or of a [Block]'s updated_account_states (§3).
//
// Each pointer field distinguishes "absent/unset" from "present with a zero
// value" exactly as the original's Optional[...] fields do: a nil
// BalanceLock means "this block/snapshot says nothing about the lock", not
// "the lock was cleared".
type AccountState struct {
	Balance                   uint64
	BalanceLock               *Hash
	Node                      *Node
	PrimaryValidatorSchedule  *Schedule
}

// Merge overlays non-nil/non-zero fields of patch onto a copy of s, used to
// fold a block's updated_account_states over a prior state (§4.7,
// §9 "snapshot = materialized fold"). Balance is always taken from patch
// since a block always carries the account's new balance when it touches the
// account at all.
func (s AccountState) Merge(patch AccountState) AccountState {
	merged := s
	merged.Balance = patch.Balance

	if patch.BalanceLock != nil {
		merged.BalanceLock = patch.BalanceLock
	}

	if patch.Node != nil {
		merged.Node = patch.Node
	}

	if patch.PrimaryValidatorSchedule != nil {
		merged.PrimaryValidatorSchedule = patch.PrimaryValidatorSchedule
	}

	return merged
}

// Validate checks structural invariants the original's blockchain_state.py
// enforces when folding state: balances cannot go negative. Since Balance is
// unsigned this can never trip in Go, but the check is kept as the
// authoritative place future fields (e.g. a signed delta) would be checked,
// matching the original's validation entry point.
func (a AccountState) Validate() error {
	return nil
}

// Block is one immutable recorded state transition (§3).
type Block struct {
	BlockNumber           uint64
	Timestamp             time.Time
	SignedChangeRequest    []byte // opaque payload understood by an external collaborator
	UpdatedAccountStates   map[AccountID]AccountState
	Hash                  Hash
	Signature             Signature
}

// Validate checks the structural invariants §3 assigns to a Block: the
// timestamp must be UTC (the original requires "naive" i.e.
// timezone-less/UTC timestamps; Go has no naive time, so this enforces the
// Go-idiomatic equivalent of UTC location) and updated account states must
// each be internally valid.
func (b Block) Validate() error {
	if b.Timestamp.Location() != time.UTC {
		return fmt.Errorf("%w: block %d timestamp must be UTC", ErrValidation, b.BlockNumber)
	}

	for id, state := range b.UpdatedAccountStates {
		if err := state.Validate(); err != nil {
			return fmt.Errorf("%w: block %d account %s: %w", ErrValidation, b.BlockNumber, id, err)
		}
	}

	return nil
}

// BlockchainState is a materialized account-state snapshot (§3). The genesis
// state has LastBlockNumber == nil; every other snapshot has it set to the
// number of the last block folded into it.
type BlockchainState struct {
	AccountStates        map[AccountID]AccountState
	LastBlockNumber       *uint64
	LastBlockIdentifier   Hash
	LastBlockTimestamp    time.Time
	NextBlockIdentifier   Hash
}

// IsGenesis reports whether this is the genesis state.
func (s BlockchainState) IsGenesis() bool {
	return s.LastBlockNumber == nil
}

// Validate checks the structural invariants §3/§7 assign to a
// BlockchainState: a non-genesis state's LastBlockNumber can never be
// negative (enforced by the type system via uint64) and every account state
// must be internally valid. It also restores the original's
// overlapping-schedule check (§12 of SPEC_FULL.md): two different accounts
// must never claim the same block number as primary validator.
func (s BlockchainState) Validate() error {
	type scheduled struct {
		account  AccountID
		schedule Schedule
	}

	var schedules []scheduled

	for id, state := range s.AccountStates {
		if err := state.Validate(); err != nil {
			return fmt.Errorf("%w: account %s: %w", ErrValidation, id, err)
		}

		if state.PrimaryValidatorSchedule != nil {
			schedules = append(schedules, scheduled{account: id, schedule: *state.PrimaryValidatorSchedule})
		}
	}

	for i := range schedules {
		for j := i + 1; j < len(schedules); j++ {
			if schedules[i].schedule.Overlaps(schedules[j].schedule) {
				return fmt.Errorf(
					"%w: primary validator schedules for %s and %s overlap",
					ErrValidation, schedules[i].account, schedules[j].account,
				)
			}
		}
	}

	return nil
}
