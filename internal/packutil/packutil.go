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

// Package packutil reads and writes Git's native bundle file framing
// (header + PACK), without understanding the PACK payload itself - that
// stays opaque and is always handed to/from the `git` executable.
package packutil

import (
    "bytes"
    "fmt"
    "strings"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

var raisef = xerr.Raisef

// v2Signature and v3Signature are the two textual bundle headers Git emits.
var (
    v2Signature = []byte("# v2 git bundle\n")
    v3Signature = []byte("# v3 git bundle\n")
)

// EmptyPack is the fixed 32-byte empty v2 PACK: header + zero objects +
// its own SHA-1 trailer.
var EmptyPack = []byte{
    0x50, 0x41, 0x43, 0x4b, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00,
    0x02, 0x9d, 0x08, 0x82, 0x3b, 0xd8, 0xa8, 0xea, 0xb5, 0x10, 0xad, 0x6a,
    0xc7, 0x5c, 0x82, 0x3c, 0xfd, 0x3e, 0xd3, 0x1e,
}

// Prereq is a "-<oid> [comment]" bundle header line.
type Prereq struct {
    Oid     oid.Oid
    Comment string // informational only, usually the commit subject
}

// Header is a parsed bundle header.
type Header struct {
    Prereqv []Prereq
    Refv    []RefLine
}

// RefLine is an "<oid> <refname>" bundle header line.
type RefLine struct {
    Oid oid.Oid
    Ref string
}

// SplitBundle splits a Git-produced bundle file into its textual header
// and raw PACK payload, and parses the header's prerequisite/ref lines.
// Splitting scans for the first blank line after the signature; everything
// after it is the PACK.
func SplitBundle(data []byte) (hdr Header, pack []byte) {
    if !bytes.HasPrefix(data, v2Signature) && !bytes.HasPrefix(data, v3Signature) {
        raisef("packutil: not a git bundle (bad signature)")
    }

    nl := bytes.IndexByte(data, '\n')
    rest := data[nl+1:]

    for {
        eol := bytes.IndexByte(rest, '\n')
        if eol == -1 {
            raisef("packutil: truncated bundle header")
        }
        line := rest[:eol]
        rest = rest[eol+1:]

        if len(line) == 0 {
            pack = rest
            return hdr, pack
        }

        switch {
        case line[0] == '@':
            // capability line, e.g. "@object-format=sha256" - not needed by
            // this protocol (the object format is negotiated out of band
            // via the Git driver), so it is parsed past and discarded.
        case line[0] == '-':
            parsePrereqLine(&hdr, line)
        default:
            parseRefLine(&hdr, line)
        }
    }
}

func parsePrereqLine(hdr *Header, line []byte) {
    body := string(line[1:])
    hexoid, comment, _ := strings.Cut(body, " ")
    o, err := oid.FromHex(hexoid)
    if err != nil {
        raisef("packutil: malformed prerequisite line %q: %s", line, err)
    }
    hdr.Prereqv = append(hdr.Prereqv, Prereq{o, comment})
}

func parseRefLine(hdr *Header, line []byte) {
    hexoid, ref, ok := strings.Cut(string(line), " ")
    if !ok {
        raisef("packutil: malformed ref line %q", line)
    }
    o, err := oid.FromHex(hexoid)
    if err != nil {
        raisef("packutil: malformed ref line %q: %s", line, err)
    }
    hdr.Refv = append(hdr.Refv, RefLine{o, ref})
}

// AssembleBundle renders a bundle file's bytes from a set of prerequisite
// oids, ref lines, and a raw PACK payload. Git refuses bundles that have a
// non-empty PACK but no reference lines, so callers must ensure refv is
// non-empty whenever pack is non-empty (the detached-HEAD synthetic-ref
// workaround exists exactly to guarantee this).
func AssembleBundle(prereqv []oid.Oid, refv []RefLine, pack []byte) []byte {
    if len(pack) > len(EmptyPack) && len(refv) == 0 {
        raisef("packutil: refusing to assemble a non-empty-pack bundle with no refs")
    }

    var buf bytes.Buffer
    buf.Write(v2Signature)
    for _, p := range prereqv {
        fmt.Fprintf(&buf, "-%s\n", p.String())
    }
    for _, r := range refv {
        fmt.Fprintf(&buf, "%s %s\n", r.Oid.String(), r.Ref)
    }
    buf.WriteByte('\n')
    buf.Write(pack)
    return buf.Bytes()
}
