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

// Package ibundle implements the V2 ibundle binary container: the
// self-describing file a `create` run produces and a `fetch` run
// consumes. All multi-byte integers are big-endian; length-prefixed byte
// strings use an unsigned LEB128 varint length.
package ibundle

import (
    "github.com/google/uuid"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

// FormatVersion is the only version this codec emits or accepts.
const FormatVersion = 0x02

var magic = [8]byte{'i', 'b', 'u', 'n', 'd', 'l', 'e', '\n'}
var trailer = [4]byte{'I', 'B', 'N', 'D'}

// Op is a ref-mutation operation kind.
type Op uint8

const (
    OpAdd Op = 1
    OpDel Op = 2
)

func (op Op) String() string {
    switch op {
    case OpAdd:
        return "ADD"
    case OpDel:
        return "DEL"
    default:
        return "?"
    }
}

// RefMutation is one entry of ref_mutations: an ADD carries the new oid,
// a DEL omits it.
type RefMutation struct {
    Op   Op
    Name string
    Oid  oid.Oid // zero for OpDel
}

// FullRef is one (name, oid) pair of full_refs, present only when Standalone.
type FullRef struct {
    Name string
    Oid  oid.Oid
}

// Head is the head descriptor: absent, symbolic, or detached.
type Head struct {
    Present  bool
    Symbolic bool
    Name     string  // valid iff Present && Symbolic
    Oid      oid.Oid // valid iff Present && !Symbolic
}

// Ibundle is the fully decoded logical content of an ibundle file.
type Ibundle struct {
    RepoId      uuid.UUID
    SeqNum      uint64
    BasisSeqNum uint64
    Standalone  bool
    Head        Head
    Mutations   []RefMutation
    FullRefs    []FullRef  // present iff Standalone
    PrereqOids  []oid.Oid  // present iff Standalone
    Pack        []byte
}
