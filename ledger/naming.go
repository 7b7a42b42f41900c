package ledger

import (
	"fmt"
	"regexp"
	"strconv"
)

// Filename widths and sentinel (§4.3). Lexicographic filesystem listing
// order must equal block/snapshot order, which is why both widths are fixed
// and the genesis sentinel sorts before any digit.
const (
	orderOfBlock           = 20
	orderOfBlockchainState = 10

	lastBlockNumberNoneSentinel = "!"
)

var (
	blockChunkFilenameRE = regexp.MustCompile(
		`^(\d{` + strconv.Itoa(orderOfBlock) + `})-(\d{` + strconv.Itoa(orderOfBlock) + `})-block-chunk\.bin(?:\.([a-z0-9]+))?$`,
	)
	snapshotFilenameRE = regexp.MustCompile(
		`^([!\d]{` + strconv.Itoa(orderOfBlockchainState) + `})-arf\.bin(?:\.([a-z0-9]+))?$`,
	)
)

// blockChunkFilename encodes a chunk's inclusive [start, end] block range
// into a filename whose lexicographic order matches block order (§4.3).
func blockChunkFilename(start, end uint64) string {
	return fmt.Sprintf("%0*d-%0*d-block-chunk.bin", orderOfBlock, start, orderOfBlock, end)
}

// blockChunkMeta is the parsed (start, end, compression-suffix) of a chunk
// filename.
type blockChunkMeta struct {
	Start       uint64
	End         uint64
	Compression string // "" if the file is raw (uncompressed)
}

// parseBlockChunkFilename parses a chunk filename (with an optional
// trailing compression suffix) back into its meta. It returns ok=false for
// names that don't match the pattern — callers log and skip these (§7).
func parseBlockChunkFilename(name string) (meta blockChunkMeta, ok bool) {
	m := blockChunkFilenameRE.FindStringSubmatch(name)
	if m == nil {
		return blockChunkMeta{}, false
	}

	start, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return blockChunkMeta{}, false
	}

	end, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return blockChunkMeta{}, false
	}

	if start > end {
		return blockChunkMeta{}, false
	}

	return blockChunkMeta{Start: start, End: end, Compression: m[3]}, true
}

// snapshotFilename encodes a snapshot's last_block_number into a filename.
// lastBlockNumber == nil encodes the genesis snapshot, which must sort
// before every other snapshot. The sentinel is the single trailing
// character '!' (ASCII 0x21, strictly below any digit 0x30-0x39), with the
// remaining width zero-padded, e.g. "000000000!-arf.bin" — this sorts before
// "0000000000-arf.bin" (block 0's snapshot) since '!' < '0'.
func snapshotFilename(lastBlockNumber *uint64) string {
	if lastBlockNumber == nil {
		prefix := fmt.Sprintf("%0*d", orderOfBlockchainState-1, 0) + lastBlockNumberNoneSentinel

		return prefix + "-arf.bin"
	}

	prefix := fmt.Sprintf("%0*d", orderOfBlockchainState, *lastBlockNumber)

	return prefix + "-arf.bin"
}

// snapshotMeta is the parsed (last_block_number, compression-suffix) of a
// snapshot filename.
type snapshotMeta struct {
	LastBlockNumber *uint64 // nil for genesis
	Compression     string
}

// parseSnapshotFilename parses a snapshot filename, returning ok=false for
// unrecognized names (§7: logged and skipped during enumeration).
func parseSnapshotFilename(name string) (meta snapshotMeta, ok bool) {
	m := snapshotFilenameRE.FindStringSubmatch(name)
	if m == nil {
		return snapshotMeta{}, false
	}

	prefix := m[1]

	if prefix == "" || prefix[len(prefix)-1] == '!' {
		return snapshotMeta{LastBlockNumber: nil, Compression: m[2]}, true
	}

	n, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return snapshotMeta{}, false
	}

	return snapshotMeta{LastBlockNumber: &n, Compression: m[2]}, true
}
