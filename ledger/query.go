package ledger

import (
	"fmt"

	"go.uber.org/zap"
)

// GetLastBlockNumber returns the number of the most recently persisted
// block, or nil if the ledger has no blocks yet.
func (l *Ledger) GetLastBlockNumber() (*uint64, error) {
	count, err := l.blocks.blockCount()
	if err != nil {
		return nil, fmt.Errorf("get last block number: %w", err)
	}

	if count == 0 {
		return nil, nil
	}

	n := count - 1

	return &n, nil
}

// GetBlockByNumber returns the block with the given number, or (nil, nil)
// if none exists.
func (l *Ledger) GetBlockByNumber(blockNumber uint64) (*Block, error) {
	b, err := l.blocks.getByNumber(blockNumber)
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", blockNumber, err)
	}

	return b, nil
}

// YieldBlocks walks blocks in the given direction starting at from
// (inclusive) if non-nil, or from the beginning/end of the store otherwise,
// invoking fn until it returns false or an error (§4.6).
func (l *Ledger) YieldBlocks(from *uint64, direction Direction, fn func(*Block) (bool, error)) error {
	return l.blocks.yieldFrom(from, direction, fn)
}

// GetBlockchainStateByBlockNumber folds the nearest snapshot at or before
// blockNumber forward through the blocks up to and including blockNumber
// (inclusive=true) or up to but excluding it (inclusive=false), returning
// the resulting account states (§4.7 "derived query layer"). It returns
// (nil, nil) if no snapshot covers the requested range at all.
func (l *Ledger) GetBlockchainStateByBlockNumber(blockNumber uint64, inclusive bool) (*BlockchainState, error) {
	hasUpper := true
	upper := blockNumber

	if !inclusive {
		if blockNumber == 0 {
			hasUpper = false
		} else {
			upper = blockNumber - 1
		}
	}

	var (
		snapshot *BlockchainState
		err      error
	)

	if hasUpper {
		snapshot, err = l.snapshots.nearestAtOrBefore(upper)
	} else {
		snapshot, err = l.snapshots.genesis()
	}

	if err != nil {
		return nil, fmt.Errorf("get blockchain state at %d: %w", blockNumber, err)
	}

	if snapshot == nil {
		return nil, nil
	}

	result := cloneBlockchainState(snapshot)

	if !hasUpper {
		return result, nil
	}

	from := uint64(0)
	if snapshot.LastBlockNumber != nil {
		from = *snapshot.LastBlockNumber + 1
	}

	if from > upper {
		return result, nil
	}

	err = l.blocks.yieldFrom(&from, Ascending, func(b *Block) (bool, error) {
		if b.BlockNumber > upper {
			return false, nil
		}

		applyBlockToState(result, b)

		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get blockchain state at %d: %w", blockNumber, err)
	}

	return result, nil
}

// YieldAccountStates invokes fn for every account and its state as of
// blockNumber (inclusive), in no particular order, until fn returns false
// or an error.
func (l *Ledger) YieldAccountStates(blockNumber uint64, fn func(AccountID, AccountState) (bool, error)) error {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return err
	}

	if state == nil {
		return nil
	}

	for id, acc := range state.AccountStates {
		cont, err := fn(id, acc)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return nil
}

// GetBalance returns accountID's balance as of blockNumber.
func (l *Ledger) GetBalance(accountID AccountID, blockNumber uint64) (uint64, error) {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return 0, err
	}

	if state == nil {
		return 0, nil
	}

	return state.AccountStates[accountID].Balance, nil
}

// GetBalanceLock returns accountID's balance lock as of blockNumber, or nil
// if it has none.
func (l *Ledger) GetBalanceLock(accountID AccountID, blockNumber uint64) (*Hash, error) {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, nil
	}

	return state.AccountStates[accountID].BalanceLock, nil
}

// GetNode returns accountID's registered node as of blockNumber, or nil if
// it has none.
func (l *Ledger) GetNode(accountID AccountID, blockNumber uint64) (*Node, error) {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, nil
	}

	return state.AccountStates[accountID].Node, nil
}

// GetPrimaryValidatorSchedule returns accountID's primary validator
// schedule as of blockNumber, or nil if it has none.
func (l *Ledger) GetPrimaryValidatorSchedule(accountID AccountID, blockNumber uint64) (*Schedule, error) {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, nil
	}

	return state.AccountStates[accountID].PrimaryValidatorSchedule, nil
}

// GetNodeByIdentifier searches every account's node as of blockNumber for
// one whose Identifier matches nodeIdentifier, since a node's identifier
// need not equal the account key that registered it.
func (l *Ledger) GetNodeByIdentifier(nodeIdentifier AccountID, blockNumber uint64) (*Node, error) {
	state, err := l.GetBlockchainStateByBlockNumber(blockNumber, true)
	if err != nil {
		return nil, err
	}

	if state == nil {
		return nil, nil
	}

	for _, acc := range state.AccountStates {
		if acc.Node != nil && acc.Node.Identifier == nodeIdentifier {
			return acc.Node, nil
		}
	}

	return nil, nil
}

// YieldNodes invokes fn for every (accountID, node) pair registered as of
// onBlockNumber, until fn returns false or an error.
func (l *Ledger) YieldNodes(onBlockNumber uint64, fn func(AccountID, *Node) (bool, error)) error {
	state, err := l.GetBlockchainStateByBlockNumber(onBlockNumber, true)
	if err != nil {
		return err
	}

	if state == nil {
		return nil
	}

	for id, acc := range state.AccountStates {
		if acc.Node == nil {
			continue
		}

		cont, err := fn(id, acc.Node)
		if err != nil {
			return err
		}

		if !cont {
			return nil
		}
	}

	return nil
}

// GetPrimaryValidator returns the account whose primary validator schedule
// covers blockNumber. Ties (more than one schedule covering blockNumber,
// which [BlockchainState.Validate] otherwise rejects within a single
// snapshot) are broken by a reverse scan from blockNumber back to the
// nearest snapshot: the most recently updated schedule wins, falling back
// to the snapshot's own account states if no block in range touched a
// schedule covering blockNumber (§4.7).
func (l *Ledger) GetPrimaryValidator(blockNumber uint64) (AccountID, bool, error) {
	snapshot, err := l.snapshots.nearestAtOrBefore(blockNumber)
	if err != nil {
		return AccountID{}, false, fmt.Errorf("get primary validator at %d: %w", blockNumber, err)
	}

	from := uint64(0)
	if snapshot != nil && snapshot.LastBlockNumber != nil {
		from = *snapshot.LastBlockNumber + 1
	}

	var (
		found    AccountID
		hasFound bool
	)

	if from <= blockNumber {
		err = l.blocks.yieldFrom(&blockNumber, Descending, func(b *Block) (bool, error) {
			if b.BlockNumber < from {
				return false, nil
			}

			var candidate AccountID

			matches := 0

			for id, patch := range b.UpdatedAccountStates {
				if patch.PrimaryValidatorSchedule != nil && patch.PrimaryValidatorSchedule.Contains(blockNumber) {
					candidate = id
					matches++
				}
			}

			if matches > 0 {
				if matches > 1 {
					l.logger.Warn("overlapping primary validator schedules in block",
						zap.Uint64("block_number", b.BlockNumber),
						zap.Uint64("queried_block_number", blockNumber),
					)
				}

				found = candidate
				hasFound = true

				return false, nil
			}

			return true, nil
		})
		if err != nil {
			return AccountID{}, false, fmt.Errorf("get primary validator at %d: %w", blockNumber, err)
		}
	}

	if hasFound {
		return found, true, nil
	}

	if snapshot != nil {
		for id, state := range snapshot.AccountStates {
			if state.PrimaryValidatorSchedule != nil && state.PrimaryValidatorSchedule.Contains(blockNumber) {
				return id, true, nil
			}
		}
	}

	return AccountID{}, false, nil
}

func cloneBlockchainState(s *BlockchainState) *BlockchainState {
	states := make(map[AccountID]AccountState, len(s.AccountStates))
	for id, acc := range s.AccountStates {
		states[id] = acc
	}

	var lastBlockNumber *uint64

	if s.LastBlockNumber != nil {
		n := *s.LastBlockNumber
		lastBlockNumber = &n
	}

	return &BlockchainState{
		AccountStates:       states,
		LastBlockNumber:     lastBlockNumber,
		LastBlockIdentifier: s.LastBlockIdentifier,
		LastBlockTimestamp:  s.LastBlockTimestamp,
		NextBlockIdentifier: s.NextBlockIdentifier,
	}
}

func applyBlockToState(state *BlockchainState, b *Block) {
	for id, patch := range b.UpdatedAccountStates {
		state.AccountStates[id] = state.AccountStates[id].Merge(patch)
	}

	n := b.BlockNumber
	state.LastBlockNumber = &n
	state.LastBlockIdentifier = b.Hash
	state.LastBlockTimestamp = b.Timestamp
}
