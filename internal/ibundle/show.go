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
    "fmt"
    "io"
)

// Render prints a stable, greppable report of ib to w - what the `show`
// subcommand emits.
func Render(w io.Writer, ib Ibundle) {
    fmt.Fprintf(w, "repo_id      %s\n", ib.RepoId)
    fmt.Fprintf(w, "seq_num      %d\n", ib.SeqNum)
    fmt.Fprintf(w, "basis_seq_num %d\n", ib.BasisSeqNum)
    fmt.Fprintf(w, "standalone   %v\n", ib.Standalone)

    switch {
    case !ib.Head.Present:
        fmt.Fprintf(w, "head         (none)\n")
    case ib.Head.Symbolic:
        fmt.Fprintf(w, "head         symbolic %s\n", ib.Head.Name)
    default:
        fmt.Fprintf(w, "head         detached %s\n", ib.Head.Oid)
    }

    fmt.Fprintf(w, "ref_mutations %d\n", len(ib.Mutations))
    for _, m := range ib.Mutations {
        if m.Op == OpAdd {
            fmt.Fprintf(w, "  + %s %s\n", m.Oid, m.Name)
        } else {
            fmt.Fprintf(w, "  - %s\n", m.Name)
        }
    }

    if ib.Standalone {
        fmt.Fprintf(w, "full_refs    %d\n", len(ib.FullRefs))
        for _, fr := range ib.FullRefs {
            fmt.Fprintf(w, "  %s %s\n", fr.Oid, fr.Name)
        }
        fmt.Fprintf(w, "prereq_oids  %d\n", len(ib.PrereqOids))
        for _, o := range ib.PrereqOids {
            fmt.Fprintf(w, "  %s\n", o)
        }
    }

    fmt.Fprintf(w, "pack_len     %d\n", len(ib.Pack))
}
