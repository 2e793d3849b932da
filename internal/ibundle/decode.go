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

package ibundle

import (
    "bytes"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
    "lab.nexedi.com/kirr/git-ibundle/internal/wire"
)

// MalformedError is returned by Decode for any structural decode failure:
// bad magic, bad version, a truncated field, a declared pack_len that
// doesn't match the remaining bytes, or a missing/garbled trailer.
type MalformedError = wire.MalformedError

// Decode parses a V2 ibundle file. The container carries raw oids with no
// size tag of its own, so format tells the decoder the oid size in effect
// - callers obtain it from gitexec.Driver.ObjectFormat() before calling
// Decode.
func Decode(data []byte, format oid.Format) (ib Ibundle, err error) {
    defer wire.Recover(&err)

    r := wire.NewReader(data)

    if r.Remaining() < len(magic) || !bytes.Equal(r.Raw(len(magic)), magic[:]) {
        wire.Malformed("bad magic")
    }
    version := r.Byte()
    if version != FormatVersion {
        wire.Malformed("unsupported format version %d", version)
    }

    copy(ib.RepoId[:], r.Raw(16))
    ib.SeqNum = r.Varint()
    ib.BasisSeqNum = r.Varint()

    flags := r.Byte()
    ib.Standalone = flags&flagStandalone != 0
    ib.Head.Present = flags&flagHeadPresent != 0
    ib.Head.Symbolic = flags&flagHeadIsSymbolic != 0

    if ib.Head.Present {
        if ib.Head.Symbolic {
            ib.Head.Name = r.Str()
        } else {
            ib.Head.Oid = r.Oid(format)
        }
    }

    nmut := r.Varint()
    ib.Mutations = make([]RefMutation, 0, nmut)
    for i := uint64(0); i < nmut; i++ {
        op := Op(r.Byte())
        if op != OpAdd && op != OpDel {
            wire.Malformed("invalid ref_mutation op %d", op)
        }
        name := r.Str()
        var o oid.Oid
        if op == OpAdd {
            o = r.Oid(format)
        }
        ib.Mutations = append(ib.Mutations, RefMutation{op, name, o})
    }

    if ib.Standalone {
        nfull := r.Varint()
        ib.FullRefs = make([]FullRef, 0, nfull)
        for i := uint64(0); i < nfull; i++ {
            name := r.Str()
            o := r.Oid(format)
            ib.FullRefs = append(ib.FullRefs, FullRef{name, o})
        }

        nprereq := r.Varint()
        ib.PrereqOids = make([]oid.Oid, 0, nprereq)
        for i := uint64(0); i < nprereq; i++ {
            ib.PrereqOids = append(ib.PrereqOids, r.Oid(format))
        }
    }

    packLen := r.Varint()
    if packLen > uint64(r.Remaining()-len(trailer)) {
        wire.Malformed("declared pack_len %d exceeds remaining data", packLen)
    }
    ib.Pack = r.Raw(int(packLen))

    if r.Remaining() != len(trailer) {
        wire.Malformed("pack_len does not leave exactly the trailer remaining (%d bytes left over)", r.Remaining()-len(trailer))
    }
    if !bytes.Equal(r.Raw(len(trailer)), trailer[:]) {
        wire.Malformed("bad trailer")
    }

    return ib, nil
}
