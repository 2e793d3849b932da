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

package syncengine

import (
    "context"
    "os"
    "sort"

    "lab.nexedi.com/kirr/git-ibundle/internal/gitexec"
    "lab.nexedi.com/kirr/git-ibundle/internal/ibundle"
    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
    "lab.nexedi.com/kirr/git-ibundle/internal/packutil"
    "lab.nexedi.com/kirr/git-ibundle/internal/refsnap"
    "lab.nexedi.com/kirr/git-ibundle/internal/store"
    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

var (
    raise   = xerr.Raise
    raiseif = xerr.Raiseif
)

// syntheticHeadRef is the workaround branch name under which a detached
// HEAD's commit is included as a bundle-create positive argument, so Git
// does not lose it (git loses objects referenced only by HEAD in a
// bundle).
func syntheticHeadRef(o oid.Oid) string {
    return "refs/heads/HEAD-" + o.String()
}

// CreateOpts configures one Create invocation.
type CreateOpts struct {
    HasBasis     bool   // whether BasisSeqNum was explicitly given on the CLI
    BasisSeqNum  uint64 // ignored unless HasBasis || BasisCurrent; looked up in the store only if !BasisCurrent
    BasisCurrent bool   // "basis equals the snapshot we are about to record"
    Standalone   bool   // forced true below when BasisSeqNum==0 or BasisCurrent
    AllowEmpty   bool
    Progress     bool
}

// Create runs the create engine and returns the resulting ibundle value,
// ready for ibundle.Encode. It also records the new sync point (and, on
// the very first successful create, the store's repo_id) before
// returning.
func Create(ctx context.Context, d *gitexec.Driver, st *store.Store, opts CreateOpts) ibundle.Ibundle {
    // current snapshot.
    sCur := refsnap.BuildCurrent(ctx, d)

    // basis snapshot.
    basisSeqNum := opts.BasisSeqNum
    if !opts.HasBasis && !opts.BasisCurrent {
        basisSeqNum = st.MaxSeqNum()
    }

    standalone := opts.Standalone || basisSeqNum == 0 || opts.BasisCurrent

    var sBasis refsnap.Snapshot
    switch {
    case opts.BasisCurrent:
        sBasis = sCur
    case basisSeqNum == 0:
        sBasis = refsnap.Empty(d.DefaultBranchRef(ctx))
    default:
        var ok bool
        sBasis, ok = st.Get(basisSeqNum)
        if !ok {
            raise(&UnknownBasis{basisSeqNum})
        }
    }

    // ref_mutations, sorted by name for determinism.
    mutations := diffRefs(sBasis.Refs, sCur.Refs)

    // prerequisite commits and the logically-empty check. The very
    // first create (basis 0) is never refused as empty - an empty-repository
    // ibundle carrying just the HEAD descriptor is the mirror's bootstrap -
    // and neither is a --basis-current resync point.
    basisCommits := sBasis.PrereqOids
    tipCommits := sCur.PrereqOids.Elements()

    logicallyEmpty := len(mutations) == 0 && subsetOf(tipCommits, basisCommits)
    if logicallyEmpty && !opts.AllowEmpty && basisSeqNum != 0 && !opts.BasisCurrent {
        raise(&EmptyIbundleRefused{})
    }

    positiveArgs, cleanup := positiveArgsFor(ctx, d, sCur)
    defer cleanup()

    negativeOids := basisCommits.Elements()

    bundlePath := xTempBundlePath(st)
    defer os.Remove(bundlePath)

    // `git bundle create` with no positional args is a usage error, not an
    // empty-bundle refusal - short-circuit the no-refs case ourselves.
    refused := true
    if len(positiveArgs) > 0 {
        refused = d.BundleCreate(ctx, bundlePath, positiveArgs, negativeOids, opts.Progress)
    }

    var pack []byte
    var prereqOids []oid.Oid
    if refused {
        // Git refused (zero refs survived the exclusion) - synthesize.
        pack = packutil.EmptyPack
        prereqOids = nil
    } else {
        data, err := os.ReadFile(bundlePath)
        raiseif(err)
        hdr, p := packutil.SplitBundle(data)
        pack = p
        // Git's own minimal prerequisite set, already reduced to the
        // reachable boundary.
        for _, prereq := range hdr.Prereqv {
            prereqOids = append(prereqOids, prereq.Oid)
        }
    }

    ib := ibundle.Ibundle{
        SeqNum:      st.NextSeqNum(),
        BasisSeqNum: basisSeqNum,
        Standalone:  standalone,
        Head:        encodeHead(sCur.Head),
        Mutations:   mutations,
        Pack:        pack,
    }

    if standalone {
        ib.PrereqOids = prereqOids
        for _, name := range sCur.SortedRefNames() {
            ib.FullRefs = append(ib.FullRefs, ibundle.FullRef{Name: name, Oid: sCur.Refs[name]})
        }
    }

    // persist, generating repo_id on the very first success.
    id, ok := st.Id()
    if !ok {
        id = store.GenerateId()
        st.WriteIdOnce(id)
    }
    ib.RepoId = id
    st.Put(ib.SeqNum, sCur)

    return ib
}

func encodeHead(h gitexec.Head) ibundle.Head {
    if !h.IsSet() {
        return ibundle.Head{}
    }
    if h.IsSymbolic() {
        return ibundle.Head{Present: true, Symbolic: true, Name: h.Symbolic}
    }
    return ibundle.Head{Present: true, Oid: h.Detached}
}

// diffRefs computes ordered ADD/DEL ref_mutations between two ref maps,
// sorted by ref name bytes.
func diffRefs(from, to map[string]oid.Oid) []ibundle.RefMutation {
    namev := map[string]bool{}
    for name := range from {
        namev[name] = true
    }
    for name := range to {
        namev[name] = true
    }
    sorted := make([]string, 0, len(namev))
    for name := range namev {
        sorted = append(sorted, name)
    }
    sort.Strings(sorted)

    var out []ibundle.RefMutation
    for _, name := range sorted {
        oldOid, hadOld := from[name]
        newOid, hasNew := to[name]
        switch {
        case hasNew && !hadOld:
            out = append(out, ibundle.RefMutation{Op: ibundle.OpAdd, Name: name, Oid: newOid})
        case hasNew && hadOld && oldOid != newOid:
            out = append(out, ibundle.RefMutation{Op: ibundle.OpAdd, Name: name, Oid: newOid})
        case !hasNew && hadOld:
            out = append(out, ibundle.RefMutation{Op: ibundle.OpDel, Name: name})
        }
    }
    return out
}

func subsetOf(commits []oid.Oid, basis oid.Set) bool {
    for _, c := range commits {
        if !basis.Contains(c) {
            return false
        }
    }
    return true
}

// positiveArgsFor builds the positive revision arguments for `git bundle
// create`: every current ref by name - a bundle header line is only written
// for an argument git can resolve back to a ref, so the tip commits and
// tag objects all have to enter through their ref names, not raw oids -
// plus, if the detached HEAD commit is reachable through no ref at all, a
// synthetic branch materialized just for the duration of this call. Refs
// whose objects are entirely reachable from the negative set are dropped
// from the header by git itself ("excluded by the rev-list options"),
// which is exactly the prerequisite reduction the caller relies on.
// cleanup removes the synthetic ref, if one was created.
func positiveArgsFor(ctx context.Context, d *gitexec.Driver, sCur refsnap.Snapshot) (argv []string, cleanup func()) {
    argv = append(argv, sCur.SortedRefNames()...)

    cleanup = func() {}
    if sCur.Head.IsSet() && !sCur.Head.IsSymbolic() {
        headOid := sCur.Head.Detached
        reachableViaRef := false
        for _, o := range sCur.Refs {
            if o == headOid {
                reachableViaRef = true
                break
            }
        }
        if !reachableViaRef {
            ref := syntheticHeadRef(headOid)
            d.CreateRef(ctx, ref, headOid)
            argv = append(argv, ref)
            cleanup = func() { d.DeleteRef(ctx, ref) }
        }
    }

    return argv, cleanup
}

func xTempBundlePath(st *store.Store) string {
    f, err := os.CreateTemp(st.ScratchDir(), "create-*.bundle")
    raiseif(err)
    path := f.Name()
    raiseif(f.Close())
    raiseif(os.Remove(path)) // bundle create wants to create the file itself
    return path
}
