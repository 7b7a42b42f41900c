package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// encodeChunkRecord wraps a single encoded block with a uvarint length
// prefix (§4.4). The prefix makes the chunk file a self-delimiting stream
// of records regardless of what the configured [Codec] produces, and lets
// readers recover the byte offset of each block without decoding its body.
func encodeChunkRecord(encodedBlock []byte) []byte {
	prefix := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(prefix, uint64(len(encodedBlock)))

	out := make([]byte, 0, n+len(encodedBlock))
	out = append(out, prefix[:n]...)
	out = append(out, encodedBlock...)

	return out
}

// decodeChunkRecords splits a chunk's raw bytes into the encoded bytes of
// each record it holds, in forward (ascending block number) order (§4.4).
func decodeChunkRecords(data []byte) ([][]byte, error) {
	var records [][]byte

	r := bytes.NewReader(data)

	for r.Len() > 0 {
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("decode chunk record: read length prefix: %w", err)
		}

		record := make([]byte, length)
		if _, err := io.ReadFull(r, record); err != nil {
			return nil, fmt.Errorf("decode chunk record: read body: %w", err)
		}

		records = append(records, record)
	}

	return records, nil
}

// decodeChunkRecordsReverse splits a chunk's raw bytes into the encoded
// bytes of each record it holds, in reverse (descending block number)
// order. The original store exploits a bounded chunk size to buffer the
// whole chunk and reverse it rather than inventing a backward framing
// format (§4.4, §4.6); we do the same here: decode forward into a slice,
// then hand records back last-first.
func decodeChunkRecordsReverse(data []byte) ([][]byte, error) {
	records, err := decodeChunkRecords(data)
	if err != nil {
		return nil, err
	}

	reversed := make([][]byte, len(records))
	for i, rec := range records {
		reversed[len(records)-1-i] = rec
	}

	return reversed, nil
}

// decodeChunkBlocks decodes every record in a chunk into a [Block], in
// forward order.
func decodeChunkBlocks(codec Codec, data []byte) ([]*Block, error) {
	records, err := decodeChunkRecords(data)
	if err != nil {
		return nil, err
	}

	blocks := make([]*Block, len(records))

	for i, rec := range records {
		b, err := codec.DecodeBlock(rec)
		if err != nil {
			return nil, fmt.Errorf("decode chunk block %d: %w", i, err)
		}

		blocks[i] = b
	}

	return blocks, nil
}
