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
)

// FetchOpts configures one Fetch invocation.
type FetchOpts struct {
    DryRun bool
    Force  bool
}

// Fetch runs the fetch engine: decodes data as an ibundle and applies it
// to the repository d drives, recording the resulting sync point in st
// unless DryRun is set.
//
// The ibundle wire format carries no self-describing oid size, so
// decoding it requires knowing that size up front. Fetch resolves this by
// first decoding under the destination's own format; if that fails
// structural validation, it retries under the other known format and, if
// that one validates cleanly, reports ObjectFormatMismatch instead of the
// otherwise-indistinguishable MalformedIbundle.
func Fetch(ctx context.Context, d *gitexec.Driver, st *store.Store, data []byte, opts FetchOpts) {
    destFormat := d.ObjectFormat(ctx)
    ib, otherFormat, err := decodeWithFormatFallback(data, destFormat)
    if err != nil {
        raise(err)
    }
    if otherFormat {
        raise(&ObjectFormatMismatch{Destination: destFormat, Ibundle: destFormat.Other()})
    }

    // repo-identity check.
    if storedId, ok := st.Id(); ok {
        if storedId != ib.RepoId {
            raise(&RepoIdMismatch{Stored: storedId, Ibundle: ib.RepoId})
        }
    } else {
        refv := d.ShowRef(ctx)
        if len(refv) > 0 && !opts.Force {
            raise(&UninitializedNonEmptyRepo{})
        }
    }

    // basis check.
    var sBasis refsnap.Snapshot
    switch {
    case ib.BasisSeqNum == 0:
        sBasis = refsnap.Empty(d.DefaultBranchRef(ctx))
    default:
        stored, ok := st.Get(ib.BasisSeqNum)
        if ok && basisMatches(stored, ib) {
            sBasis = stored
        } else if ib.Standalone && opts.Force {
            // trust the ibundle's own embedded view.
            sBasis = refsnap.Snapshot{Refs: map[string]oid.Oid{}, PrereqOids: oid.Set{}}
        } else {
            raise(&MissingBasis{ib.BasisSeqNum})
        }
    }

    // reconstruct the ref set the destination must end up with.
    var r map[string]oid.Oid
    if ib.Standalone {
        r = make(map[string]oid.Oid, len(ib.FullRefs))
        for _, fr := range ib.FullRefs {
            r[fr.Name] = fr.Oid
        }
    } else {
        r = make(map[string]oid.Oid, len(sBasis.Refs))
        for name, o := range sBasis.Refs {
            r[name] = o
        }
        for _, m := range ib.Mutations {
            switch m.Op {
            case ibundle.OpAdd:
                r[m.Name] = m.Oid
            case ibundle.OpDel:
                delete(r, m.Name)
            }
        }
    }

    // verify prerequisites are locally present.
    prereqOids := ib.PrereqOids
    if !ib.Standalone {
        prereqOids = sBasis.PrereqOids.Elements()
    }
    for _, o := range prereqOids {
        if !d.IsReachable(ctx, o) {
            raise(&MissingPrerequisite{o})
        }
    }

    // assemble a temporary bundle, ref lines in name order for
    // deterministic output.
    var refv []packutil.RefLine
    for _, name := range sortedNames(r) {
        refv = append(refv, packutil.RefLine{Oid: r[name], Ref: name})
    }

    // a detached HEAD that no ref in R points at gets the synthetic
    // branch, otherwise git fetch never unpacks its commit.
    var syntheticRef string
    if ib.Head.Present && !ib.Head.Symbolic && !refContains(r, ib.Head.Oid) {
        syntheticRef = syntheticHeadRef(ib.Head.Oid)
        refv = append(refv, packutil.RefLine{Oid: ib.Head.Oid, Ref: syntheticRef})
    }

    bundleData := packutil.AssembleBundle(prereqOids, refv, ib.Pack)
    bundlePath := xTempBundlePath(st)
    raiseif(os.WriteFile(bundlePath, bundleData, 0666))
    defer os.Remove(bundlePath)

    d.FetchFromBundle(ctx, bundlePath, opts.DryRun)

    if !opts.DryRun {
        // HEAD update.
        switch {
        case !ib.Head.Present:
            // leave HEAD unchanged.
        case ib.Head.Symbolic:
            // also set when R is empty: mirroring an empty repository means
            // pointing HEAD at the source's (still unborn) default branch.
            if _, ok := r[ib.Head.Name]; ok || len(r) == 0 {
                d.SetSymbolicHead(ctx, ib.Head.Name)
            }
        default:
            if d.IsReachable(ctx, ib.Head.Oid) || refContains(r, ib.Head.Oid) {
                d.SetDetachedHead(ctx, ib.Head.Oid)
            }
        }

        // cleanup synthetic refs.
        if syntheticRef != "" {
            d.DeleteRef(ctx, syntheticRef)
        }

        // persist the reconstructed sync point.
        newHead := decodeHead(ib.Head)
        newSnap := refsnap.Snapshot{
            Head:       newHead,
            Refs:       r,
            PrereqOids: refsnap.ClassifyCommitPrereqs(ctx, d, r, newHead),
        }
        st.Put(ib.SeqNum, newSnap)
        if _, ok := st.Id(); !ok {
            st.WriteIdOnce(ib.RepoId)
        }
    }
}

// decodeWithFormatFallback decodes data as destFormat; if that fails
// structural validation, it retries as the other known format. usedOther
// reports whether the second attempt is the one that actually validated.
func decodeWithFormatFallback(data []byte, destFormat oid.Format) (ib ibundle.Ibundle, usedOther bool, err error) {
    ib, err = ibundle.Decode(data, destFormat)
    if err == nil {
        return ib, false, nil
    }
    ib2, err2 := ibundle.Decode(data, destFormat.Other())
    if err2 == nil {
        return ib2, true, nil
    }
    return ibundle.Ibundle{}, false, err
}

func basisMatches(stored refsnap.Snapshot, ib ibundle.Ibundle) bool {
    if ib.Standalone {
        if len(stored.Refs) != len(ib.FullRefs) {
            return false
        }
        for _, fr := range ib.FullRefs {
            if stored.Refs[fr.Name] != fr.Oid {
                return false
            }
        }
        return true
    }
    return true // non-standalone: existence of the entry is enough.
}

func decodeHead(h ibundle.Head) gitexec.Head {
    if !h.Present {
        return gitexec.Head{}
    }
    if h.Symbolic {
        return gitexec.Head{Symbolic: h.Name}
    }
    return gitexec.Head{Detached: h.Oid}
}

func sortedNames(r map[string]oid.Oid) []string {
    namev := make([]string, 0, len(r))
    for name := range r {
        namev = append(namev, name)
    }
    sort.Strings(namev)
    return namev
}

func refContains(r map[string]oid.Oid, o oid.Oid) bool {
    for _, v := range r {
        if v == o {
            return true
        }
    }
    return false
}

