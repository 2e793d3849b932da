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

package oid

import "sort"

// Set is Set<Oid>.
type Set map[Oid]struct{}

func (s Set) Add(v Oid) {
    s[v] = struct{}{}
}

func (s Set) Contains(v Oid) bool {
    _, ok := s[v]
    return ok
}

// Elements returns all set elements, sorted by Oid byte order for
// deterministic iteration.
func (s Set) Elements() []Oid {
    ev := make([]Oid, 0, len(s))
    for e := range s {
        ev = append(ev, e)
    }
    sort.Sort(ByOid(ev))
    return ev
}
