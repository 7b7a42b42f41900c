package ledger

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gofs "github.com/nbnode/ledgerstore/pkg/fs"
)

// Direction controls [fileStore.listDirectory] ordering.
type Direction int

const (
	Unordered  Direction = 0
	Ascending  Direction = 1
	Descending Direction = -1
)

// fileStore is the compressing, finalization-aware, fan-out filesystem
// store of §4.2 (L2). It is the shared engine behind both the block store
// and the snapshot store; each gets its own fileStore rooted at a different
// subdirectory of the ledger's base directory.
type fileStore struct {
	fsys        gofs.FS
	atomic      *gofs.AtomicWriter
	basePath    string // absolute
	compressors []compressor
	fanoutDepth int
	tmpDirName  string
}

func newFileStore(fsys gofs.FS, basePath string, compressors []compressor, fanoutDepth int) *fileStore {
	return &fileStore{
		fsys:        fsys,
		atomic:      gofs.NewAtomicWriter(fsys),
		basePath:    basePath,
		compressors: compressors,
		fanoutDepth: fanoutDepth,
		tmpDirName:  ".tmp",
	}
}

// resolve maps a logical relative path to its absolute physical path,
// applying the fan-out rewrite and rejecting paths that escape basePath
// (§4.2: "Absolute input paths are rejected; paths resolving outside
// base_path are rejected").
func (s *fileStore) resolve(logicalPath string) (string, error) {
	if filepath.IsAbs(logicalPath) {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, logicalPath)
	}

	physical := fanoutPath(filepath.ToSlash(logicalPath), s.fanoutDepth)
	abs := filepath.Join(s.basePath, filepath.FromSlash(physical))

	rel, err := filepath.Rel(s.basePath, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q resolves outside base path", ErrInvalidPath, logicalPath)
	}

	return abs, nil
}

// save overwrites logicalPath with data (§4.2).
func (s *fileStore) save(logicalPath string, data []byte, isFinal bool) error {
	return s.persist(logicalPath, data, false, isFinal)
}

// append adds data to the end of logicalPath, creating it if absent (§4.2,
// §4.1 "append via copy-then-append"). Atomicity is provided by reading the
// current content (if any), concatenating, and writing the whole file back
// through the atomic writer — a crash leaves either the old or the new
// content in place, never a half-written file.
func (s *fileStore) append(logicalPath string, data []byte, isFinal bool) error {
	return s.persist(logicalPath, data, true, isFinal)
}

func (s *fileStore) persist(logicalPath string, data []byte, appendMode bool, isFinal bool) error {
	abs, err := s.resolve(logicalPath)
	if err != nil {
		return err
	}

	finalized, err := s.isFinalizedAbs(abs)
	if err != nil {
		return err
	}

	if finalized {
		return fmt.Errorf("%w: %q", ErrFinalizedFileWrite, logicalPath)
	}

	content := data

	if appendMode {
		existing, readErr := s.fsys.ReadFile(abs)
		if readErr != nil && !os.IsNotExist(readErr) {
			return fmt.Errorf("append %q: read existing: %w", logicalPath, readErr)
		}

		if readErr == nil {
			content = append(append([]byte(nil), existing...), data...)
		}
	}

	if err := s.fsys.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("persist %q: create parent dir: %w", logicalPath, err)
	}

	if err := s.atomic.Write(abs, bytes.NewReader(content), gofs.AtomicWriteOptions{SyncDir: true, Perm: 0o644}); err != nil {
		return fmt.Errorf("persist %q: %w", logicalPath, err)
	}

	if isFinal {
		return s.finalizeAbs(abs)
	}

	return nil
}

// load resolves logicalPath by trying each compression suffix in order (as
// configured), falling back to the raw path, and transparently decompresses
// (§4.2).
func (s *fileStore) load(logicalPath string) ([]byte, error) {
	abs, err := s.resolve(logicalPath)
	if err != nil {
		return nil, err
	}

	for _, c := range s.compressors {
		compressed, readErr := s.fsys.ReadFile(abs + "." + c.Suffix())
		if readErr != nil {
			if os.IsNotExist(readErr) {
				continue
			}

			return nil, fmt.Errorf("load %q: %w", logicalPath, readErr)
		}

		data, decErr := c.Decompress(compressed)
		if decErr != nil {
			return nil, fmt.Errorf("load %q: %w", logicalPath, decErr)
		}

		return data, nil
	}

	data, err := s.fsys.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", logicalPath, err)
	}

	return data, nil
}

// finalize runs compression selection and then drops all write permission
// bits, making the file immutable (§4.2, §3 invariant 6).
func (s *fileStore) finalize(logicalPath string) error {
	abs, err := s.resolve(logicalPath)
	if err != nil {
		return err
	}

	return s.finalizeAbs(abs)
}

func (s *fileStore) finalizeAbs(abs string) error {
	raw, err := s.fsys.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("finalize: read %q: %w", abs, err)
	}

	winner, compressed, err := selectCompression(raw, s.compressors)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	if winner == nil {
		return dropWritePermissions(s.fsys, abs)
	}

	compressedPath := abs + "." + winner.Suffix()

	if err := s.atomic.Write(compressedPath, bytes.NewReader(compressed), gofs.AtomicWriteOptions{SyncDir: true, Perm: 0o644}); err != nil {
		return fmt.Errorf("finalize: write compressed %q: %w", compressedPath, err)
	}

	if err := dropWritePermissions(s.fsys, compressedPath); err != nil {
		return err
	}

	if err := s.fsys.Remove(abs); err != nil {
		return fmt.Errorf("finalize: remove raw %q: %w", abs, err)
	}

	return nil
}

// move renames src to dst, creating dst's parent directories (§4.2).
// Atomicity of the rename step itself is not required by §4.6 (a crash
// between append and rename is explicitly tolerated and recoverable by
// re-scanning), so a plain rename suffices here.
func (s *fileStore) move(srcLogical, dstLogical string) error {
	src, err := s.resolve(srcLogical)
	if err != nil {
		return err
	}

	dst, err := s.resolve(dstLogical)
	if err != nil {
		return err
	}

	if err := s.fsys.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("move: create parent dir: %w", err)
	}

	if err := s.fsys.Rename(src, dst); err != nil {
		return fmt.Errorf("move %q -> %q: %w", srcLogical, dstLogical, err)
	}

	return nil
}

// isFinalized reports whether logicalPath has been finalized: a compressed
// sibling exists, or the raw file exists with no write permission bits
// (§4.2).
func (s *fileStore) isFinalized(logicalPath string) (bool, error) {
	abs, err := s.resolve(logicalPath)
	if err != nil {
		return false, err
	}

	return s.isFinalizedAbs(abs)
}

func (s *fileStore) isFinalizedAbs(abs string) (bool, error) {
	for _, c := range s.compressors {
		exists, err := s.fsys.Exists(abs + "." + c.Suffix())
		if err != nil {
			return false, fmt.Errorf("is_finalized: %w", err)
		}

		if exists {
			return true, nil
		}
	}

	info, err := s.fsys.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("is_finalized: stat: %w", err)
	}

	return info.Mode()&0o222 == 0, nil
}

// listDirectory lists every logical path under the store, recursing
// through the fan-out subdirectories, stripping the fan-out segments and any
// compression suffix before returning each path (§4.2). Entries come back
// sorted per direction (ascending, descending, or unsorted). It walks the
// whole tree before returning and hands back a complete slice; entries are
// not produced lazily.
func (s *fileStore) listDirectory(direction Direction) ([]string, error) {
	var logical []string

	seen := make(map[string]bool)

	err := s.walk(s.basePath, func(abs string) error {
		rel, err := filepath.Rel(s.basePath, abs)
		if err != nil {
			return err
		}

		stripped := stripCompressionSuffix(filepath.ToSlash(rel), s.compressors)
		logicalRel := unfanoutPath(stripped, s.fanoutDepth)

		if !seen[logicalRel] {
			seen[logicalRel] = true
			logical = append(logical, logicalRel)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list_directory: %w", err)
	}

	switch direction {
	case Ascending:
		sort.Strings(logical)
	case Descending:
		sort.Sort(sort.Reverse(sort.StringSlice(logical)))
	case Unordered:
	}

	return logical, nil
}

// walk recursively visits every regular file under dir, skipping the tmp
// scratch directory.
func (s *fileStore) walk(dir string, visit func(path string) error) error {
	entries, err := s.fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.Name() == s.tmpDirName {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := s.walk(path, visit); err != nil {
				return err
			}

			continue
		}

		if err := visit(path); err != nil {
			return err
		}
	}

	return nil
}

// clear removes the store's entire base directory tree, used by
// Ledger.Clear (§4.6 "Caches ... invalidated only on clear()").
func (s *fileStore) clear() error {
	if err := s.fsys.RemoveAll(s.basePath); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	return nil
}

func stripCompressionSuffix(relPath string, compressors []compressor) string {
	for _, c := range compressors {
		if suffix := "." + c.Suffix(); strings.HasSuffix(relPath, suffix) {
			return strings.TrimSuffix(relPath, suffix)
		}
	}

	return relPath
}

func dropWritePermissions(fsys gofs.FS, path string) error {
	info, err := fsys.Stat(path)
	if err != nil {
		return fmt.Errorf("drop write permissions: stat %q: %w", path, err)
	}

	mode := info.Mode() &^ 0o222

	// fs.FS has no Chmod; open the file to reach os.File.Chmod, matching how
	// the teacher's atomic writer reaches Chmod through an open handle
	// rather than adding a path-based FS method for a single call site.
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("drop write permissions: open %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := f.Chmod(mode); err != nil {
		return fmt.Errorf("drop write permissions: chmod %q: %w", path, err)
	}

	return nil
}
