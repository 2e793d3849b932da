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

// Package wire is the shared varint/length-prefix container discipline
// used by both the ibundle codec and the metadata store's per-sync-point
// snapshot files. All multi-byte integers are big-endian; lengths are
// unsigned LEB128 varints - exactly Go's stdlib encoding/binary
// unsigned-varint encoding.
package wire

import (
    "bytes"
    "encoding/binary"
    "fmt"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

// MalformedError is raised by Reader methods on any structural decode
// failure.
type MalformedError struct {
    Reason string
}

func (e *MalformedError) Error() string {
    return "malformed: " + e.Reason
}

// Malformed panics with a *MalformedError - callers of Reader are expected
// to recover it at their package boundary and turn it into a proper error
// return (see ibundle.Decode and store's snapshot decoder).
func Malformed(format string, argv ...interface{}) {
    panic(&MalformedError{fmt.Sprintf(format, argv...)})
}

// Writer accumulates a wire encoding.
type Writer struct {
    buf bytes.Buffer
}

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) Raw(b []byte) { w.buf.Write(b) }

func (w *Writer) Byte(b byte) { w.buf.WriteByte(b) }

func (w *Writer) Varint(v uint64) {
    var scratch [binary.MaxVarintLen64]byte
    n := binary.PutUvarint(scratch[:], v)
    w.buf.Write(scratch[:n])
}

// Blob writes a varint length prefix followed by the raw bytes - used for
// ref names, which are arbitrary raw bytes, not necessarily valid UTF-8.
func (w *Writer) Blob(b []byte) {
    w.Varint(uint64(len(b)))
    w.buf.Write(b)
}

func (w *Writer) Str(s string) { w.Blob([]byte(s)) }

func (w *Writer) Oid(o oid.Oid) { w.buf.Write(o.Bytes()) }

// Reader consumes a wire encoding written by Writer, panicking with
// *MalformedError on any structural problem.
type Reader struct {
    data []byte
    pos  int
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) Raw(n int) []byte {
    if r.Remaining() < n {
        Malformed("truncated (wanted %d bytes, have %d)", n, r.Remaining())
    }
    b := r.data[r.pos : r.pos+n]
    r.pos += n
    return b
}

func (r *Reader) Byte() byte {
    return r.Raw(1)[0]
}

func (r *Reader) Varint() uint64 {
    v, n := binary.Uvarint(r.data[r.pos:])
    if n <= 0 {
        Malformed("truncated or invalid varint")
    }
    r.pos += n
    return v
}

func (r *Reader) Blob() []byte {
    n := r.Varint()
    if n > uint64(r.Remaining()) {
        Malformed("truncated blob (wanted %d bytes, have %d)", n, r.Remaining())
    }
    return r.Raw(int(n))
}

func (r *Reader) Str() string { return string(r.Blob()) }

func (r *Reader) Oid(format oid.Format) oid.Oid {
    o, err := oid.FromRaw(r.Raw(format.Size()))
    if err != nil {
        Malformed("%s", err)
    }
    return o
}

// Recover turns a panicked *MalformedError into an error return; any other
// panic value is re-raised. Call it via `defer wire.Recover(&err)` at the
// top of a decoder.
func Recover(errp *error) {
    if r := recover(); r != nil {
        if me, ok := r.(*MalformedError); ok {
            *errp = me
            return
        }
        panic(r)
    }
}
