// Copyright (C) 2015-2026  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

// Package store implements the repository metadata store: the `ibundle/`
// directory beside a Git repository that remembers the repository's
// repo_id and the ref snapshot captured at every sync point git-ibundle
// has created or fetched.
package store

import (
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strconv"

    "github.com/google/uuid"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
    "lab.nexedi.com/kirr/git-ibundle/internal/refsnap"
    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

var (
    raise    = xerr.Raise
    raiseif  = xerr.Raiseif
    raisef   = xerr.Raisef
    myfuncname = xerr.FuncName
)

// Store is the metadata store rooted at dir (`<repo>/ibundle/` for a bare
// repository, `<repo>/.git/ibundle/` otherwise).
type Store struct {
    dir    string
    format oid.Format
}

// Open returns a Store rooted at dir, creating dir and its seq/ and tmp/
// subdirectories if they don't exist yet. format is the object format
// (oid size) this repository's git was negotiated to use; it is needed to
// decode any stored snapshot (see decodeSnapshot).
func Open(dir string, format oid.Format) *Store {
    for _, sub := range []string{"", "seq", "tmp"} {
        raiseif(os.MkdirAll(filepath.Join(dir, sub), 0777))
    }
    return &Store{dir: dir, format: format}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Format returns the object format (oid size) this store was opened with.
func (s *Store) Format() oid.Format { return s.format }

// ScratchDir is where temporary bundle files are created and removed
// during a single create/fetch invocation; keeping them under the store
// (not an unmanaged OS temp dir) keeps them on the same filesystem and
// easy to sweep.
func (s *Store) ScratchDir() string { return filepath.Join(s.dir, "tmp") }

func (s *Store) idPath() string       { return filepath.Join(s.dir, "id") }
func (s *Store) seqPath(n uint64) string {
    return filepath.Join(s.dir, "seq", strconv.FormatUint(n, 10))
}

// Id returns the stored repo_id, or the zero UUID if none has been written
// yet (the id is generated lazily on the first successful create).
func (s *Store) Id() (id uuid.UUID, ok bool) {
    data, err := os.ReadFile(s.idPath())
    if err != nil {
        if os.IsNotExist(err) {
            return uuid.UUID{}, false
        }
        raise(err)
    }
    id, err = uuid.Parse(string(bytesTrimNL(data)))
    raiseif(err)
    return id, true
}

// WriteIdOnce writes id as the store's repo_id. A repo_id is set exactly
// once per store; it is the caller's responsibility to only call this
// when Id() previously reported !ok.
func (s *Store) WriteIdOnce(id uuid.UUID) {
    atomicWriteFile(s.dir, s.idPath(), []byte(id.String()+"\n"))
}

// GenerateId allocates a fresh random repo_id.
func GenerateId() uuid.UUID {
    return uuid.New()
}

// Put persists snap as the ref snapshot of sync point seqNum, atomically.
func (s *Store) Put(seqNum uint64, snap refsnap.Snapshot) {
    atomicWriteFile(s.dir, s.seqPath(seqNum), encodeSnapshot(snap))
}

// Get looks up the ref snapshot stored at seqNum. ok is false if no such
// sync point exists.
func (s *Store) Get(seqNum uint64) (snap refsnap.Snapshot, ok bool) {
    data, err := os.ReadFile(s.seqPath(seqNum))
    if err != nil {
        if os.IsNotExist(err) {
            return refsnap.Snapshot{}, false
        }
        raise(err)
    }
    snap, err = decodeSnapshot(data, s.format)
    if err != nil {
        raise(xerr.AddContext(xerr.AsError(err), fmt.Sprintf("store: seq/%d is corrupt", seqNum)))
    }
    return snap, true
}

// SeqNums returns every sync point number currently on disk, ascending.
func (s *Store) SeqNums() []uint64 {
    return s.seqNums()
}

// seqNums returns every sync point number currently on disk, ascending.
func (s *Store) seqNums() []uint64 {
    entryv, err := os.ReadDir(filepath.Join(s.dir, "seq"))
    raiseif(err)
    nv := make([]uint64, 0, len(entryv))
    for _, e := range entryv {
        n, err := strconv.ParseUint(e.Name(), 10, 64)
        if err != nil {
            continue // not a sync point file - ignore stray content
        }
        nv = append(nv, n)
    }
    sort.Slice(nv, func(i, j int) bool { return nv[i] < nv[j] })
    return nv
}

// MaxSeqNum is the largest stored sync point key, or 0 if the store is
// empty.
func (s *Store) MaxSeqNum() uint64 {
    nv := s.seqNums()
    if len(nv) == 0 {
        return 0
    }
    return nv[len(nv)-1]
}

// NextSeqNum is MaxSeqNum()+1.
func (s *Store) NextSeqNum() uint64 {
    return s.MaxSeqNum() + 1
}

// RemoveBelow deletes every sync point entry with seq_num <= threshold.
// The entry for max_seq_num always survives - it is the basis the next
// incremental create diffs against.
func (s *Store) RemoveBelow(threshold uint64) {
    max := s.MaxSeqNum()
    for _, n := range s.seqNums() {
        if n <= threshold && n != max {
            raiseif(os.Remove(s.seqPath(n)))
        }
    }
}

func bytesTrimNL(b []byte) []byte {
    for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
        b = b[:len(b)-1]
    }
    return b
}

// atomicWriteFile writes data to path by first writing a temp file under
// dir/tmp/ and renaming it into place, so a crash mid-write never leaves
// a half-written file at path. A leftover temp file from a prior crash
// stays in tmp/; nothing in the store removes it later.
func atomicWriteFile(dir, path string, data []byte) {
    here := myfuncname()
    tmp, err := os.CreateTemp(filepath.Join(dir, "tmp"), "ibundle-*")
    raiseif(err)
    tmpPath := tmp.Name()

    _, werr := tmp.Write(data)
    cerr := tmp.Close()
    if werr != nil {
        os.Remove(tmpPath)
        raise(xerr.AddCallingContext(here, xerr.AsError(werr)))
    }
    if cerr != nil {
        os.Remove(tmpPath)
        raise(xerr.AddCallingContext(here, xerr.AsError(cerr)))
    }

    if err := os.Rename(tmpPath, path); err != nil {
        os.Remove(tmpPath)
        raise(xerr.AddCallingContext(here, xerr.AsError(err)))
    }
}
