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

package store

import (
    "lab.nexedi.com/kirr/git-ibundle/internal/gitexec"
    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
    "lab.nexedi.com/kirr/git-ibundle/internal/refsnap"
    "lab.nexedi.com/kirr/git-ibundle/internal/wire"
)

// snapshot file flags, distinct from the ibundle codec's (no standalone/pack bits
// needed here - a stored sync point always carries its full ref set).
const (
    flagHeadIsSymbolic = 1 << 0
    flagHeadPresent    = 1 << 1
)

// encodeSnapshot renders snap using the same varint/length-prefix container
// discipline as the ibundle body, but with no magic, version, or PACK -
// just the snapshot fields.
func encodeSnapshot(snap refsnap.Snapshot) []byte {
    var w wire.Writer

    var flags byte
    if snap.Head.IsSet() {
        flags |= flagHeadPresent
        if snap.Head.IsSymbolic() {
            flags |= flagHeadIsSymbolic
        }
    }
    w.Byte(flags)

    if snap.Head.IsSet() {
        if snap.Head.IsSymbolic() {
            w.Str(snap.Head.Symbolic)
        } else {
            w.Oid(snap.Head.Detached)
        }
    }

    namev := snap.SortedRefNames()
    w.Varint(uint64(len(namev)))
    for _, name := range namev {
        w.Str(name)
        w.Oid(snap.Refs[name])
    }

    prereqv := snap.PrereqOids.Elements()
    w.Varint(uint64(len(prereqv)))
    for _, o := range prereqv {
        w.Oid(o)
    }

    return w.Bytes()
}

// decodeSnapshot parses bytes written by encodeSnapshot. format is the
// object format negotiated for the repository this store belongs to - a
// stored snapshot carries no format tag of its own, mirroring the ibundle
// codec's reliance on an externally negotiated oid size.
func decodeSnapshot(data []byte, format oid.Format) (snap refsnap.Snapshot, err error) {
    defer wire.Recover(&err)

    r := wire.NewReader(data)
    snap.Refs = map[string]oid.Oid{}
    snap.PrereqOids = oid.Set{}

    flags := r.Byte()
    headPresent := flags&flagHeadPresent != 0
    headSymbolic := flags&flagHeadIsSymbolic != 0

    if headPresent {
        if headSymbolic {
            snap.Head = gitexec.Head{Symbolic: r.Str()}
        } else {
            snap.Head = gitexec.Head{Detached: r.Oid(format)}
        }
    }

    nref := r.Varint()
    for i := uint64(0); i < nref; i++ {
        name := r.Str()
        o := r.Oid(format)
        snap.Refs[name] = o
    }

    nprereq := r.Varint()
    for i := uint64(0); i < nprereq; i++ {
        snap.PrereqOids.Add(r.Oid(format))
    }

    if r.Remaining() != 0 {
        wire.Malformed("trailing garbage after snapshot (%d bytes)", r.Remaining())
    }

    return snap, nil
}
