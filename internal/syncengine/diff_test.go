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
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "lab.nexedi.com/kirr/git-ibundle/internal/ibundle"
    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

func xoid(t *testing.T, hexstr string) oid.Oid {
    t.Helper()
    o, err := oid.FromHex(hexstr)
    require.NoError(t, err)
    return o
}

func TestDiffRefsAddDelUpdate(t *testing.T) {
    c1 := xoid(t, "1111111111111111111111111111111111111111")
    c2 := xoid(t, "2222222222222222222222222222222222222222")
    c3 := xoid(t, "3333333333333333333333333333333333333333")

    from := map[string]oid.Oid{
        "refs/heads/main":    c1,
        "refs/heads/branch1": c2,
    }
    to := map[string]oid.Oid{
        "refs/heads/main": c3, // updated
        "refs/heads/main2": c2, // added
    }

    got := diffRefs(from, to)
    want := []ibundle.RefMutation{
        {Op: ibundle.OpDel, Name: "refs/heads/branch1"},
        {Op: ibundle.OpAdd, Name: "refs/heads/main", Oid: c3},
        {Op: ibundle.OpAdd, Name: "refs/heads/main2", Oid: c2},
    }
    assert.Equal(t, want, got)
}

func TestDiffRefsNoChangeWhenIdentical(t *testing.T) {
    c1 := xoid(t, "1111111111111111111111111111111111111111")
    refs := map[string]oid.Oid{"refs/heads/main": c1}
    got := diffRefs(refs, refs)
    assert.Empty(t, got)
}

func TestSubsetOf(t *testing.T) {
    c1 := xoid(t, "1111111111111111111111111111111111111111")
    c2 := xoid(t, "2222222222222222222222222222222222222222")

    basis := oid.Set{}
    basis.Add(c1)

    assert.True(t, subsetOf([]oid.Oid{c1}, basis))
    assert.True(t, subsetOf(nil, basis))
    assert.False(t, subsetOf([]oid.Oid{c1, c2}, basis))
}

func TestSyntheticHeadRefNaming(t *testing.T) {
    c1 := xoid(t, "1111111111111111111111111111111111111111")
    assert.Equal(t, "refs/heads/HEAD-"+c1.String(), syntheticHeadRef(c1))
}
