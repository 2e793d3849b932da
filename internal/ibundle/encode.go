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
    "lab.nexedi.com/kirr/git-ibundle/internal/wire"
)

const (
    flagStandalone     = 1 << 0
    flagHeadIsSymbolic = 1 << 1
    flagHeadPresent    = 1 << 2
)

// Encode renders ib as a V2 ibundle file.
func Encode(ib Ibundle) []byte {
    var w wire.Writer

    w.Raw(magic[:])
    w.Byte(FormatVersion)
    w.Raw(ib.RepoId[:])
    w.Varint(ib.SeqNum)
    w.Varint(ib.BasisSeqNum)

    var flags byte
    if ib.Standalone {
        flags |= flagStandalone
    }
    if ib.Head.Present {
        flags |= flagHeadPresent
        if ib.Head.Symbolic {
            flags |= flagHeadIsSymbolic
        }
    }
    w.Byte(flags)

    if ib.Head.Present {
        if ib.Head.Symbolic {
            w.Str(ib.Head.Name)
        } else {
            w.Oid(ib.Head.Oid)
        }
    }

    w.Varint(uint64(len(ib.Mutations)))
    for _, m := range ib.Mutations {
        w.Byte(byte(m.Op))
        w.Str(m.Name)
        if m.Op == OpAdd {
            w.Oid(m.Oid)
        }
    }

    if ib.Standalone {
        w.Varint(uint64(len(ib.FullRefs)))
        for _, fr := range ib.FullRefs {
            w.Str(fr.Name)
            w.Oid(fr.Oid)
        }

        w.Varint(uint64(len(ib.PrereqOids)))
        for _, o := range ib.PrereqOids {
            w.Oid(o)
        }
    }

    w.Varint(uint64(len(ib.Pack)))
    w.Raw(ib.Pack)

    w.Raw(trailer[:])

    return w.Bytes()
}
