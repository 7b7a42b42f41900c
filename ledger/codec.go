package ledger

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

func timeFromUnixNanoUTC(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// Codec serializes domain records to and from bytes. It is named in §1 as an
// external collaborator: validation, signing, and hashing live upstream of
// the store, and a deployment is free to swap in its own wire format (the
// original Python store uses msgpack). This package ships a default codec
// built on [encoding/gob] — the same library the teacher repo already uses
// for its own on-disk cache (see cache.go in the teacher tree) — so the
// store is runnable out of the box without pulling in a third-party
// serialization format purely to satisfy an out-of-scope interface.
//
// A Codec's EncodeX output need not be self-delimiting on its own; the block
// chunk format (chunk.go) wraps every record with an explicit length prefix,
// so Codec only has to round-trip a single record.
type Codec interface {
	EncodeBlock(b *Block) ([]byte, error)
	DecodeBlock(data []byte) (*Block, error)
	EncodeBlockchainState(s *BlockchainState) ([]byte, error)
	DecodeBlockchainState(data []byte) (*BlockchainState, error)
}

// GobCodec is the default [Codec], built on [encoding/gob].
type GobCodec struct{}

var _ Codec = GobCodec{}

// gobBlock and gobBlockchainState mirror the exported types but encode the
// pointer-typed optional fields through gob-friendly concrete fields with an
// explicit presence flag, since gob's handling of nil pointers inside a
// registered struct is otherwise order-dependent.
type gobAccountState struct {
	Balance          uint64
	HasBalanceLock   bool
	BalanceLock      Hash
	HasNode          bool
	Node             Node
	HasSchedule      bool
	Schedule         Schedule
}

func toGobAccountState(a AccountState) gobAccountState {
	g := gobAccountState{Balance: a.Balance}

	if a.BalanceLock != nil {
		g.HasBalanceLock = true
		g.BalanceLock = *a.BalanceLock
	}

	if a.Node != nil {
		g.HasNode = true
		g.Node = *a.Node
	}

	if a.PrimaryValidatorSchedule != nil {
		g.HasSchedule = true
		g.Schedule = *a.PrimaryValidatorSchedule
	}

	return g
}

func fromGobAccountState(g gobAccountState) AccountState {
	a := AccountState{Balance: g.Balance}

	if g.HasBalanceLock {
		lock := g.BalanceLock
		a.BalanceLock = &lock
	}

	if g.HasNode {
		node := g.Node
		a.Node = &node
	}

	if g.HasSchedule {
		schedule := g.Schedule
		a.PrimaryValidatorSchedule = &schedule
	}

	return a
}

type gobBlock struct {
	BlockNumber          uint64
	Timestamp            int64 // UnixNano, UTC
	SignedChangeRequest  []byte
	AccountIDs           []AccountID
	AccountStates        []gobAccountState
	Hash                 Hash
	Signature            Signature
}

// EncodeBlock implements [Codec].
func (GobCodec) EncodeBlock(b *Block) ([]byte, error) {
	ids := make([]AccountID, 0, len(b.UpdatedAccountStates))
	states := make([]gobAccountState, 0, len(b.UpdatedAccountStates))

	for id, state := range b.UpdatedAccountStates {
		ids = append(ids, id)
		states = append(states, toGobAccountState(state))
	}

	g := gobBlock{
		BlockNumber:         b.BlockNumber,
		Timestamp:           b.Timestamp.UTC().UnixNano(),
		SignedChangeRequest: b.SignedChangeRequest,
		AccountIDs:          ids,
		AccountStates:       states,
		Hash:                b.Hash,
		Signature:           b.Signature,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, fmt.Errorf("encode block %d: %w", b.BlockNumber, err)
	}

	return buf.Bytes(), nil
}

// DecodeBlock implements [Codec].
func (GobCodec) DecodeBlock(data []byte) (*Block, error) {
	var g gobBlock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	states := make(map[AccountID]AccountState, len(g.AccountIDs))
	for i, id := range g.AccountIDs {
		states[id] = fromGobAccountState(g.AccountStates[i])
	}

	return &Block{
		BlockNumber:          g.BlockNumber,
		Timestamp:            timeFromUnixNanoUTC(g.Timestamp),
		SignedChangeRequest:  g.SignedChangeRequest,
		UpdatedAccountStates: states,
		Hash:                 g.Hash,
		Signature:            g.Signature,
	}, nil
}

type gobBlockchainState struct {
	AccountIDs          []AccountID
	AccountStates       []gobAccountState
	HasLastBlockNumber  bool
	LastBlockNumber     uint64
	LastBlockIdentifier Hash
	LastBlockTimestamp  int64
	NextBlockIdentifier Hash
}

// EncodeBlockchainState implements [Codec].
func (GobCodec) EncodeBlockchainState(s *BlockchainState) ([]byte, error) {
	ids := make([]AccountID, 0, len(s.AccountStates))
	states := make([]gobAccountState, 0, len(s.AccountStates))

	for id, state := range s.AccountStates {
		ids = append(ids, id)
		states = append(states, toGobAccountState(state))
	}

	g := gobBlockchainState{
		AccountIDs:          ids,
		AccountStates:       states,
		LastBlockIdentifier: s.LastBlockIdentifier,
		LastBlockTimestamp:  s.LastBlockTimestamp.UTC().UnixNano(),
		NextBlockIdentifier: s.NextBlockIdentifier,
	}

	if s.LastBlockNumber != nil {
		g.HasLastBlockNumber = true
		g.LastBlockNumber = *s.LastBlockNumber
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, fmt.Errorf("encode blockchain state: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeBlockchainState implements [Codec].
func (GobCodec) DecodeBlockchainState(data []byte) (*BlockchainState, error) {
	var g gobBlockchainState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("decode blockchain state: %w", err)
	}

	states := make(map[AccountID]AccountState, len(g.AccountIDs))
	for i, id := range g.AccountIDs {
		states[id] = fromGobAccountState(g.AccountStates[i])
	}

	s := &BlockchainState{
		AccountStates:       states,
		LastBlockIdentifier: g.LastBlockIdentifier,
		LastBlockTimestamp:  timeFromUnixNanoUTC(g.LastBlockTimestamp),
		NextBlockIdentifier: g.NextBlockIdentifier,
	}

	if g.HasLastBlockNumber {
		n := g.LastBlockNumber
		s.LastBlockNumber = &n
	}

	return s, nil
}
