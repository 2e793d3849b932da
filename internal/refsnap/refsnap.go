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

// Package refsnap captures a deterministic snapshot of a repository's refs
// and HEAD - the value recorded at every sync point.
package refsnap

import (
    "context"
    "sort"

    "lab.nexedi.com/kirr/git-ibundle/internal/gitexec"
    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

// Snapshot is the value recorded at a sync point.
type Snapshot struct {
    Head       gitexec.Head
    Refs       map[string]oid.Oid // ref name -> oid, keys unique
    PrereqOids oid.Set            // commit oids that must exist at the destination when this is the basis
}

// Empty is the seq_num==0 sentinel basis: no refs, no prereqs, and a
// symbolic HEAD pointing at defaultBranch (whatever branch Git itself
// chose at init time).
func Empty(defaultBranch string) Snapshot {
    return Snapshot{
        Head:       gitexec.Head{Symbolic: defaultBranch},
        Refs:       map[string]oid.Oid{},
        PrereqOids: oid.Set{},
    }
}

// SortedRefNames returns snap.Refs's keys in byte order, for deterministic
// serialization and diffing.
func (snap Snapshot) SortedRefNames() []string {
    namev := make([]string, 0, len(snap.Refs))
    for name := range snap.Refs {
        namev = append(namev, name)
    }
    sort.Strings(namev)
    return namev
}

// BuildCurrent snapshots the repository's present refs and HEAD, peeling
// every ref's oid to its underlying commit (when one exists) to populate
// PrereqOids.
func BuildCurrent(ctx context.Context, d *gitexec.Driver) Snapshot {
    refv := d.ShowRef(ctx)
    refs := make(map[string]oid.Oid, len(refv))

    for _, e := range refv {
        refs[e.Ref] = e.Oid
    }

    head := d.CurrentHead(ctx)

    return Snapshot{Head: head, Refs: refs, PrereqOids: ClassifyCommitPrereqs(ctx, d, refs, head)}
}

// ClassifyCommitPrereqs derives the commit-prerequisite set of a ref map
// plus HEAD, peeling tags once each. PrereqOids holds only commit oids -
// git bundles cannot express any other prerequisite type. Both
// BuildCurrent and the fetch engine's post-apply snapshot use this, since
// a reconstructed snapshot must satisfy the same invariant a freshly
// captured one does.
func ClassifyCommitPrereqs(ctx context.Context, d *gitexec.Driver, refs map[string]oid.Oid, head gitexec.Head) oid.Set {
    prereqs := oid.Set{}
    for _, o := range refs {
        addCommitPrereq(ctx, d, o, prereqs)
    }
    if head.IsSet() && !head.IsSymbolic() {
        addCommitPrereq(ctx, d, head.Detached, prereqs)
    }
    return prereqs
}

// addCommitPrereq classifies o and, if it is (or peels to) a commit, adds
// that commit oid to prereqs. A tag peeling to a tree/blob contributes
// nothing to prereqs - it still travels in the PACK and still appears in
// refs/full_refs.
func addCommitPrereq(ctx context.Context, d *gitexec.Driver, o oid.Oid, prereqs oid.Set) {
    t := d.TypeOf(ctx, o)
    switch t {
    case "commit":
        prereqs.Add(o)
    case "tag":
        target, targetType := d.Peel(ctx, o)
        if targetType == "commit" {
            prereqs.Add(target)
        }
        // tree/blob-tagged tags: nothing reachable as a commit parent.
    default:
        // tree or blob ref: no commit prerequisite.
    }
}
