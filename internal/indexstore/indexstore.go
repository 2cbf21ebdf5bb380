// Package indexstore owns the on-disk snapshot files for one peer's
// tree: it walks the configured root, builds an in-memory Index,
// persists it atomically, rotates current to previous between runs,
// and derives the local and remote change sets the rest of the
// system needs.
//
// This is a generalization of the walk in bobg/bs's dsync.Tree.Ingest
// (which recursively visits a directory, skipping ignored entries,
// and builds a tree of blobs) adapted to runison's flat,
// path-keyed, snapshot-to-disk model instead of a content-addressed
// blob tree.
package indexstore

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bketelsen/runison"
)

const (
	currentName  = ".runison-current"
	previousName = ".runison-previous"
)

// Store owns the snapshot files under one Config's root.
type Store struct {
	cfg *runison.Config

	// FirstRun is set by MoveIndex when no previous snapshot exists. A
	// first run means LocalChanges reports "no change set" rather than
	// an empty one, per the documented distinction.
	FirstRun bool
}

// New returns a Store for the given configuration.
func New(cfg *runison.Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) currentPath() string  { return filepath.Join(s.cfg.RootPath, currentName) }
func (s *Store) previousPath() string { return filepath.Join(s.cfg.RootPath, previousName) }

// MoveIndex renames the current snapshot to the previous snapshot,
// atomically, in preparation for this run's walk. If there is no
// current snapshot yet (the very first run against this root), it
// sets FirstRun and returns no error.
func (s *Store) MoveIndex() error {
	err := os.Rename(s.currentPath(), s.previousPath())
	if os.IsNotExist(err) {
		s.FirstRun = true
		return nil
	}
	if err != nil {
		return errors.Wrapf(runison.ErrSnapshotIO, "rotating snapshot: %v", err)
	}
	return nil
}

// BuildIndex walks the tree under the configured root, applying the
// ignore filter at directory-entry time so that a matched directory
// prunes its whole subtree rather than being visited and discarded
// entry by entry. It persists the resulting Index to the current
// snapshot file (write to a temp file, then rename, so an interrupted
// run cannot leave a half-written snapshot) and returns it.
//
// When Config.Directories names more than one root, each is walked in
// its own goroutine via errgroup.Group, the way store/sync.go fans out
// independent per-blob work; the partial indices are merged into one
// afterward so no single Index is ever mutated from more than one
// goroutine at a time.
func (s *Store) BuildIndex() (*runison.Index, error) {
	roots := s.walkRoots()

	partials := make([]*runison.Index, len(roots))
	var g errgroup.Group
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			partial := runison.NewIndex()
			if err := s.walk(partial, root); err != nil {
				return err
			}
			partials[i] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	idx := runison.NewIndex()
	for _, partial := range partials {
		partial.Each(func(key string, n runison.Node) bool {
			idx.Put(key, n)
			return true
		})
	}

	if err := s.writeSnapshot(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// walkRoots returns the absolute directories to walk: either the
// configured root itself, or the configured root plus each entry in
// Config.Directories, if that list is non-empty.
func (s *Store) walkRoots() []string {
	if len(s.cfg.Directories) == 0 {
		return []string{s.cfg.RootPath}
	}
	roots := make([]string, len(s.cfg.Directories))
	for i, d := range s.cfg.Directories {
		roots[i] = filepath.Join(s.cfg.RootPath, d)
	}
	return roots
}

func (s *Store) walk(idx *runison.Index, dir string) error {
	rel, err := filepath.Rel(s.cfg.RootPath, dir)
	if err != nil {
		return errors.Wrapf(err, "relative path of %s", dir)
	}
	if rel == "." {
		rel = ""
	}
	return s.walkRel(idx, dir, filepath.ToSlash(rel))
}

// walkRel walks dir (whose root-relative path is rel) depth-first,
// inserting every retained entry into idx. The empty relative path
// (dir == RootPath) is normalized via runison.RootKey so the root
// entry itself gets a valid, unique key.
func (s *Store) walkRel(idx *runison.Index, dir, rel string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// The directory itself vanished mid-walk, or is unreadable;
		// record and move on rather than aborting the whole walk.
		log.WithField("dir", dir).WithError(err).Warn("skipping unreadable directory")
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	key := rel
	if key == "" {
		key = runison.RootKey(s.cfg.RootPath)
	}
	rootNode, err := runison.NewNode(s.cfg.RootPath, rel)
	if err != nil {
		// NodeUnreadable on the directory itself: skip it entirely.
		log.WithField("dir", dir).WithError(err).Warn("skipping unreadable directory")
		return nil
	}
	idx.Put(key, rootNode)

	for _, entry := range entries {
		childRel := entry.Name()
		if rel != "" {
			childRel = rel + "/" + entry.Name()
		}
		abs := filepath.Join(dir, entry.Name())

		ignored, err := runison.Ignore(s.cfg, abs, entry.Name())
		if err != nil {
			return err
		}
		if ignored {
			continue
		}

		if entry.IsDir() {
			if err := s.walkRel(idx, abs, childRel); err != nil {
				return err
			}
			continue
		}

		n, err := runison.NewNode(s.cfg.RootPath, childRel)
		if err != nil {
			// NodeUnreadable: record and skip, continue the walk.
			log.WithField("path", abs).WithError(err).Warn("skipping unreadable entry")
			continue
		}
		idx.Put(childRel, n)
	}

	return nil
}

func (s *Store) writeSnapshot(idx *runison.Index) error {
	data, err := idx.Encode()
	if err != nil {
		return errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}

	dir := s.cfg.RootPath
	tmp, err := os.CreateTemp(dir, currentName+".tmp-*")
	if err != nil {
		return errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}
	if err := os.Rename(tmpName, s.currentPath()); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}
	return nil
}

func readSnapshot(path string) (*runison.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(runison.ErrSnapshotIO, err.Error())
	}
	idx, err := runison.DecodeIndex(data)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// LocalChanges computes this run's change set against the previous
// run's snapshot on the same peer. If FirstRun is set (no previous
// snapshot exists), it returns (nil, false, nil): the false return
// distinguishes "no change set" from an empty one, per the
// first-run-no-diff property.
func (s *Store) LocalChanges() ([]runison.Change, bool, error) {
	if s.FirstRun {
		return nil, false, nil
	}

	previous, err := readSnapshot(s.previousPath())
	if err != nil {
		return nil, false, err
	}
	current, err := readSnapshot(s.currentPath())
	if err != nil {
		return nil, false, err
	}

	return runison.Diff(previous, current), true, nil
}

// RemoteChanges computes the change set between a remote tree (as
// reported by the other peer) and this peer's current index. Per the
// asymmetric conflict policy, a Modified verdict on a file present on
// both sides is reported only when the local timestamp is strictly
// newer than the remote one; the symmetric case is left for the
// remote side to report during its own run. Deleted here means
// "present remotely, absent locally" — a misleading name inherited
// from the underlying diff primitive, not an instruction to delete
// anything locally.
func RemoteChanges(remote, local *runison.Index) []runison.Change {
	raw := runison.Diff(remote, local)

	filtered := raw[:0:0]
	for _, c := range raw {
		if c.Type != runison.Modified {
			filtered = append(filtered, c)
			continue
		}
		remoteNode, ok := remote.Get(c.Key)
		if !ok {
			continue
		}
		if newer(c.Node, remoteNode) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func newer(local, remote runison.Node) bool {
	if local.ModSec != remote.ModSec {
		return local.ModSec > remote.ModSec
	}
	return local.ModNanos > remote.ModNanos
}
