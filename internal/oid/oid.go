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

// Package oid represents Git object identifiers.
//
// An Oid is an opaque byte string whose size depends on the repository's
// object format (20 bytes for SHA-1, 32 for SHA-256). It is a raw-byte
// string rather than a fixed array so it stays comparable and usable as a
// map key without hardcoding a single hash width.
package oid

import (
    "encoding/hex"
    "fmt"

    "lab.nexedi.com/kirr/go123/mem"
)

// Oid is a raw (non-hex) object identifier. The zero value is the null oid.
type Oid string

// Format, the negotiated object format of a repository.
type Format int

const (
    SHA1 Format = iota
    SHA256
)

func (f Format) Size() int {
    switch f {
    case SHA1:
        return 20
    case SHA256:
        return 32
    default:
        panic("oid: invalid format")
    }
}

func (f Format) String() string {
    switch f {
    case SHA1:
        return "sha1"
    case SHA256:
        return "sha256"
    default:
        return fmt.Sprintf("oid.Format(%d)", int(f))
    }
}

// Other returns the one remaining known format (SHA1<->SHA256), used by
// fetch's oid-size-mismatch fallback decode (see internal/syncengine).
func (f Format) Other() Format {
    if f == SHA1 {
        return SHA256
    }
    return SHA1
}

// FormatBySize returns the Format whose raw size is n, or an error if n
// doesn't correspond to a known object format.
func FormatBySize(n int) (Format, error) {
    switch n {
    case 20:
        return SHA1, nil
    case 32:
        return SHA256, nil
    default:
        return 0, fmt.Errorf("oid: unsupported object id size %d", n)
    }
}

// FromHex parses a lowercase-hex textual oid.
func FromHex(s string) (Oid, error) {
    raw, err := hex.DecodeString(s)
    if err != nil {
        return "", fmt.Errorf("oid: %q invalid: %s", s, err)
    }
    if _, err := FormatBySize(len(raw)); err != nil {
        return "", fmt.Errorf("oid: %q invalid: %s", s, err)
    }
    return Oid(mem.String(raw)), nil
}

// FromRaw wraps raw object-id bytes (must already be 20 or 32 bytes) as Oid.
func FromRaw(raw []byte) (Oid, error) {
    if _, err := FormatBySize(len(raw)); err != nil {
        return "", err
    }
    return Oid(mem.String(raw)), nil
}

// String renders the oid as lowercase hex.
func (o Oid) String() string {
    return hex.EncodeToString(mem.Bytes(string(o)))
}

// IsNull reports whether o is the zero oid (not set, not "all zero bytes" -
// callers that need to detect an all-zero hash should compare Size()
// explicitly; in this protocol a null Oid only ever means "absent").
func (o Oid) IsNull() bool {
    return o == ""
}

// Format returns the object format this oid was produced under.
func (o Oid) Format() Format {
    f, err := FormatBySize(len(o))
    if err != nil {
        panic(err)
    }
    return f
}

// Bytes returns the raw oid bytes.
func (o Oid) Bytes() []byte {
    return mem.Bytes(string(o))
}

// ByOid sorts a []Oid by raw byte order, used wherever serialized output
// has to come out reproducibly.
type ByOid []Oid

func (p ByOid) Len() int           { return len(p) }
func (p ByOid) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p ByOid) Less(i, j int) bool { return p[i] < p[j] }
