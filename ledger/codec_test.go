package ledger

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestGobCodec_Block_RoundTrips(t *testing.T) {
	t.Parallel()

	account := uuid.New()
	lock := Hash("lock")

	block := &Block{
		BlockNumber:         7,
		Timestamp:           time.Unix(1000, 0).UTC(),
		SignedChangeRequest: []byte("payload"),
		UpdatedAccountStates: map[AccountID]AccountState{
			account: {Balance: 42, BalanceLock: &lock},
		},
		Hash:      Hash("hash"),
		Signature: Signature("sig"),
	}

	codec := GobCodec{}

	data, err := codec.EncodeBlock(block)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}

	got, err := codec.DecodeBlock(data)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}

	if got.BlockNumber != block.BlockNumber {
		t.Fatalf("BlockNumber = %d, want %d", got.BlockNumber, block.BlockNumber)
	}

	if !got.Timestamp.Equal(block.Timestamp) {
		t.Fatalf("Timestamp = %v, want %v", got.Timestamp, block.Timestamp)
	}

	state, ok := got.UpdatedAccountStates[account]
	if !ok {
		t.Fatalf("UpdatedAccountStates missing account %v", account)
	}

	if state.Balance != 42 || state.BalanceLock == nil || *state.BalanceLock != lock {
		t.Fatalf("UpdatedAccountStates[account] = %+v, want Balance=42 BalanceLock=%q", state, lock)
	}
}

func TestGobCodec_BlockchainState_RoundTrips_WithNilFields(t *testing.T) {
	t.Parallel()

	account := uuid.New()

	state := &BlockchainState{
		AccountStates: map[AccountID]AccountState{
			account: {Balance: 1},
		},
	}

	codec := GobCodec{}

	data, err := codec.EncodeBlockchainState(state)
	if err != nil {
		t.Fatalf("EncodeBlockchainState: %v", err)
	}

	got, err := codec.DecodeBlockchainState(data)
	if err != nil {
		t.Fatalf("DecodeBlockchainState: %v", err)
	}

	if got.LastBlockNumber != nil {
		t.Fatalf("LastBlockNumber = %v, want nil", got.LastBlockNumber)
	}

	if !got.IsGenesis() {
		t.Fatalf("IsGenesis() = false, want true")
	}

	if got.AccountStates[account].Balance != 1 {
		t.Fatalf("AccountStates[account].Balance = %d, want 1", got.AccountStates[account].Balance)
	}
}

func TestGobCodec_BlockchainState_RoundTrips_WithLastBlockNumber(t *testing.T) {
	t.Parallel()

	n := uint64(12)

	state := &BlockchainState{
		AccountStates:       map[AccountID]AccountState{},
		LastBlockNumber:     &n,
		LastBlockIdentifier: Hash("last"),
		LastBlockTimestamp:  time.Unix(500, 0).UTC(),
	}

	codec := GobCodec{}

	data, err := codec.EncodeBlockchainState(state)
	if err != nil {
		t.Fatalf("EncodeBlockchainState: %v", err)
	}

	got, err := codec.DecodeBlockchainState(data)
	if err != nil {
		t.Fatalf("DecodeBlockchainState: %v", err)
	}

	if got.LastBlockNumber == nil || *got.LastBlockNumber != n {
		t.Fatalf("LastBlockNumber = %v, want %d", got.LastBlockNumber, n)
	}

	if got.LastBlockIdentifier != state.LastBlockIdentifier {
		t.Fatalf("LastBlockIdentifier = %q, want %q", got.LastBlockIdentifier, state.LastBlockIdentifier)
	}
}

func TestGobCodec_Block_RoundTrips_DeepEqual(t *testing.T) {
	t.Parallel()

	account := uuid.New()

	block := &Block{
		BlockNumber:         3,
		Timestamp:           time.Unix(2000, 0).UTC(),
		SignedChangeRequest: []byte("payload"),
		UpdatedAccountStates: map[AccountID]AccountState{
			account: {Balance: 9},
		},
		Hash:      Hash("hash"),
		Signature: Signature("sig"),
	}

	codec := GobCodec{}

	data, err := codec.EncodeBlock(block)
	if err != nil {
		t.Fatalf("EncodeBlock: %v", err)
	}

	got, err := codec.DecodeBlock(data)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}

	if diff := cmp.Diff(block, got); diff != "" {
		t.Fatalf("decoded block mismatch (-want +got):\n%s", diff)
	}
}
