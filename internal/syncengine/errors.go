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

// Package syncengine implements the create and fetch engines: the two
// algorithms that either produce an ibundle file from the current
// repository state, or apply one to advance a mirror.
package syncengine

import (
    "fmt"

    "github.com/google/uuid"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

// One Go type per fatal error kind that isn't already covered by
// ibundle.MalformedError or gitexec.GitError.

// EmptyIbundleRefused is raised instead of producing a logically-empty
// ibundle, unless the caller passed AllowEmpty. The CLI boundary maps
// this to exit status 3.
type EmptyIbundleRefused struct{}

func (e *EmptyIbundleRefused) Error() string {
    return "refusing to create an empty ibundle (no changes since basis); pass --allow-empty to override"
}

// UnknownBasis is raised by Create when the requested basis_seq_num has no
// entry in the metadata store.
type UnknownBasis struct {
    SeqNum uint64
}

func (e *UnknownBasis) Error() string {
    return fmt.Sprintf("unknown basis: no sync point recorded at seq_num %d", e.SeqNum)
}

// RepoIdMismatch is raised by Fetch when the ibundle's repo_id does not
// match the destination's stored id. Never overridable, even with --force.
type RepoIdMismatch struct {
    Stored, Ibundle uuid.UUID
}

func (e *RepoIdMismatch) Error() string {
    return fmt.Sprintf("repo_id mismatch: destination is %s, ibundle is %s", e.Stored, e.Ibundle)
}

// ObjectFormatMismatch is raised by Fetch when the ibundle's oid size does
// not match the destination's negotiated object format - SHA-1 and
// SHA-256 repositories cannot be mixed at a basis boundary. Fatal, never
// overridable, the same policy as RepoIdMismatch.
type ObjectFormatMismatch struct {
    Destination, Ibundle oid.Format
}

func (e *ObjectFormatMismatch) Error() string {
    return fmt.Sprintf("object format mismatch: destination uses %s, ibundle uses %s", e.Destination, e.Ibundle)
}

// UninitializedNonEmptyRepo is raised by Fetch when the destination has no
// stored repo_id yet but already has refs, unless the caller passed Force.
type UninitializedNonEmptyRepo struct{}

func (e *UninitializedNonEmptyRepo) Error() string {
    return "destination has refs but no git-ibundle metadata; pass --force to adopt it as the base state"
}

// MissingBasis is raised by Fetch when the ibundle's basis_seq_num cannot
// be verified against the destination's store and Force/standalone
// doesn't waive the check.
type MissingBasis struct {
    SeqNum uint64
}

func (e *MissingBasis) Error() string {
    return fmt.Sprintf("missing or mismatched basis: no verifiable sync point at seq_num %d", e.SeqNum)
}

// MissingPrerequisite is raised by Fetch when a prerequisite commit the
// ibundle assumes is locally present is not.
type MissingPrerequisite struct {
    Oid oid.Oid
}

func (e *MissingPrerequisite) Error() string {
    return fmt.Sprintf("missing prerequisite commit %s", e.Oid)
}
