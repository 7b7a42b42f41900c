package ledger

import (
	"bytes"
	"testing"
)

func TestChunkRecords_RoundTripForward(t *testing.T) {
	t.Parallel()

	records := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}

	var buf []byte
	for _, r := range records {
		buf = append(buf, encodeChunkRecord(r)...)
	}

	got, err := decodeChunkRecords(buf)
	if err != nil {
		t.Fatalf("decodeChunkRecords: %v", err)
	}

	if len(got) != len(records) {
		t.Fatalf("decodeChunkRecords returned %d records, want %d", len(got), len(records))
	}

	for i := range records {
		if !bytes.Equal(got[i], records[i]) {
			t.Fatalf("record[%d] = %q, want %q", i, got[i], records[i])
		}
	}
}

func TestChunkRecords_ReverseOrder(t *testing.T) {
	t.Parallel()

	records := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}

	var buf []byte
	for _, r := range records {
		buf = append(buf, encodeChunkRecord(r)...)
	}

	got, err := decodeChunkRecordsReverse(buf)
	if err != nil {
		t.Fatalf("decodeChunkRecordsReverse: %v", err)
	}

	if len(got) != len(records) {
		t.Fatalf("decodeChunkRecordsReverse returned %d records, want %d", len(got), len(records))
	}

	for i := range records {
		want := records[len(records)-1-i]
		if !bytes.Equal(got[i], want) {
			t.Fatalf("reversed record[%d] = %q, want %q", i, got[i], want)
		}
	}
}

func TestDecodeChunkBlocks_DecodesEachRecord(t *testing.T) {
	t.Parallel()

	codec := GobCodec{}

	blocks := []*Block{testBlock(0), testBlock(1)}

	var buf []byte
	for _, b := range blocks {
		encoded, err := codec.EncodeBlock(b)
		if err != nil {
			t.Fatalf("EncodeBlock: %v", err)
		}

		buf = append(buf, encodeChunkRecord(encoded)...)
	}

	got, err := decodeChunkBlocks(codec, buf)
	if err != nil {
		t.Fatalf("decodeChunkBlocks: %v", err)
	}

	if len(got) != len(blocks) {
		t.Fatalf("decodeChunkBlocks returned %d blocks, want %d", len(got), len(blocks))
	}

	for i := range blocks {
		if got[i].BlockNumber != blocks[i].BlockNumber {
			t.Fatalf("block[%d].BlockNumber = %d, want %d", i, got[i].BlockNumber, blocks[i].BlockNumber)
		}
	}
}
