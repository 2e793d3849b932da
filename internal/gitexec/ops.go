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

package gitexec

import (
    "context"
    "fmt"
    "strconv"
    "strings"

    "lab.nexedi.com/kirr/git-ibundle/internal/oid"
)

// ShowRefEntry is one line of `git show-ref` output.
type ShowRefEntry struct {
    Oid oid.Oid
    Ref string
}

// ShowRef lists every ref in the repository (show-ref does not emit a
// HEAD pseudo-ref; HEAD is resolved separately via CurrentHead).
func (d *Driver) ShowRef(ctx context.Context) []ShowRefEntry {
    gerr, stdout, _ := d.G(ctx, []string{"show-ref"}, RunOpts{})
    if gerr != nil {
        // an empty repository makes `show-ref` exit 1 with no output - not an error.
        if gerr.Stdout == "" && gerr.GitErrContext.Stderr == "" {
            return nil
        }
        raise(gerr)
    }
    if stdout == "" {
        return nil
    }

    out := []ShowRefEntry{}
    for _, line := range strings.Split(stdout, "\n") {
        if line == "" {
            continue
        }
        hexoid, ref, ok := strings.Cut(line, " ")
        if !ok {
            raisef("show-ref: malformed line %q", line)
        }
        o, err := oid.FromHex(hexoid)
        raiseif(err)
        out = append(out, ShowRefEntry{o, ref})
    }
    return out
}

// Head is either a symbolic target (Symbolic != "") or a detached Oid.
type Head struct {
    Symbolic string // ref name, e.g. "refs/heads/main"; "" if detached
    Detached oid.Oid
}

func (h Head) IsSymbolic() bool { return h.Symbolic != "" }
func (h Head) IsSet() bool      { return h.Symbolic != "" || !h.Detached.IsNull() }

// CurrentHead resolves HEAD: symbolic target if possible, else the raw oid
// for a detached HEAD.
func (d *Driver) CurrentHead(ctx context.Context) Head {
    gerr, stdout, _ := d.G(ctx, []string{"symbolic-ref", "--quiet", "HEAD"}, RunOpts{})
    if gerr == nil {
        return Head{Symbolic: stdout}
    }

    // detached (or totally unborn) HEAD - try to resolve the raw oid.
    gerr2, stdout2, _ := d.G(ctx, []string{"rev-parse", "--verify", "HEAD"}, RunOpts{})
    if gerr2 != nil {
        // unborn HEAD on an empty repository: no commit to point at yet.
        return Head{}
    }
    o, err := oid.FromHex(stdout2)
    raiseif(err)
    return Head{Detached: o}
}

// DefaultBranchRef returns the ref an empty repository's HEAD symbolically
// points at (Git itself picks this at `init` time).
func (d *Driver) DefaultBranchRef(ctx context.Context) string {
    return d.CurrentHead(ctx).Symbolic
}

// TypeOf reports an object's type (`git cat-file -t`).
func (d *Driver) TypeOf(ctx context.Context, o oid.Oid) string {
    return d.X(ctx, []string{"cat-file", "-t", o.String()}, RunOpts{})
}

// Peel resolves a tag object transitively to its first non-tag target
// (`rev-parse <oid>^{}`), returning the target oid and its type.
func (d *Driver) Peel(ctx context.Context, o oid.Oid) (target oid.Oid, targetType string) {
    hexoid := d.X(ctx, []string{"rev-parse", "--verify", o.String() + "^{}"}, RunOpts{})
    target, err := oid.FromHex(hexoid)
    raiseif(err)
    targetType = d.TypeOf(ctx, target)
    return target, targetType
}

// IsReachable reports whether commitOid is present locally and is a
// commit object (callers only ask this of prerequisite oids, which are
// always commits).
func (d *Driver) IsReachable(ctx context.Context, commitOid oid.Oid) bool {
    gerr, _, _ := d.G(ctx, []string{"cat-file", "-e", commitOid.String()}, RunOpts{})
    if gerr != nil {
        return false
    }
    return d.TypeOf(ctx, commitOid) == "commit"
}

// BundleCreate runs `git bundle create <path> <positiveRefs...> <^negativeOids...>`.
// positiveArgs are ref names or raw oids to include; negativeOids become
// `^oid` exclusions. Progress output goes to our own stderr when progress
// is true. The produced bundle file is left on disk at path for the
// caller to split; BundleCreate itself reports whether Git refused to
// produce any bundle at all (logically-empty history).
func (d *Driver) BundleCreate(ctx context.Context, path string, positiveArgs []string, negativeOids []oid.Oid, progress bool) (refused bool) {
    argv := []string{"bundle", "create", path}
    argv = append(argv, positiveArgs...)
    for _, o := range negativeOids {
        argv = append(argv, "^"+o.String())
    }

    stderrMode := Pipe
    if progress {
        stderrMode = DontRedirect
    }
    gerr, _, stderr := d.G(ctx, argv, RunOpts{Stderr: stderrMode})
    if gerr == nil {
        return false
    }
    // Git refuses with "fatal: Refusing to create empty bundle." when the
    // positive/negative set yields zero refs.
    if strings.Contains(stderr, "empty bundle") || strings.Contains(gerr.GitErrContext.Stderr, "empty bundle") {
        return true
    }
    raise(gerr)
    panic("unreachable")
}

// FetchFromBundle runs `git fetch --prune --force [--dry-run] <path> "*:*"`.
func (d *Driver) FetchFromBundle(ctx context.Context, path string, dryRun bool) {
    argv := []string{"fetch", "--prune", "--force"}
    if dryRun {
        argv = append(argv, "--dry-run")
    }
    argv = append(argv, path, "*:*")
    d.X(ctx, argv, RunOpts{Stderr: Pipe})
}

// SetSymbolicHead runs `git symbolic-ref HEAD <ref>`.
func (d *Driver) SetSymbolicHead(ctx context.Context, ref string) {
    d.X(ctx, []string{"symbolic-ref", "HEAD", ref}, RunOpts{})
}

// SetDetachedHead runs `git update-ref --no-deref HEAD <oid>`.
func (d *Driver) SetDetachedHead(ctx context.Context, o oid.Oid) {
    d.X(ctx, []string{"update-ref", "--no-deref", "HEAD", o.String()}, RunOpts{})
}

// DeleteRef runs `git update-ref -d <ref>`, used to clean up the synthetic
// `refs/heads/HEAD-<oid>` workaround refs.
func (d *Driver) DeleteRef(ctx context.Context, ref string) {
    d.X(ctx, []string{"update-ref", "-d", ref}, RunOpts{})
}

// CreateRef runs `git update-ref <ref> <oid>`, used to materialize the
// synthetic positive ref for a detached-HEAD-only commit before `bundle
// create`.
func (d *Driver) CreateRef(ctx context.Context, ref string, o oid.Oid) {
    d.X(ctx, []string{"update-ref", ref, o.String()}, RunOpts{})
}

// GitDir returns the repository's git directory (`git rev-parse
// --git-dir`), resolved relative to the process's current working
// directory - which Git itself has already chdir'ed to honor `-C <dir>`
// before exec'ing this helper.
func (d *Driver) GitDir(ctx context.Context) string {
    return d.X(ctx, []string{"rev-parse", "--git-dir"}, RunOpts{})
}

// ObjectFormat queries the repository's configured hash algorithm
// (`git rev-parse --show-object-format`).
func (d *Driver) ObjectFormat(ctx context.Context) oid.Format {
    gerr, stdout, _ := d.G(ctx, []string{"rev-parse", "--show-object-format"}, RunOpts{})
    if gerr != nil || stdout == "" {
        return oid.SHA1 // older git, or a repo predating the flag: SHA-1 only.
    }
    switch stdout {
    case "sha256":
        return oid.SHA256
    default:
        return oid.SHA1
    }
}

// Version reports the installed git's major.minor, raising if `git
// version` can't be parsed at all.
func (d *Driver) Version(ctx context.Context) (major, minor int) {
    stdout := d.X(ctx, []string{"version"}, RunOpts{})
    fieldv := strings.Fields(stdout)
    for _, f := range fieldv {
        parts := strings.SplitN(f, ".", 3)
        if len(parts) < 2 {
            continue
        }
        ma, err1 := strconv.Atoi(parts[0])
        mi, err2 := strconv.Atoi(parts[1])
        if err1 == nil && err2 == nil {
            return ma, mi
        }
    }
    raisef("gitexec: cannot parse %q as a git version", stdout)
    panic("unreachable")
}

// MinVersion is the lowest git release the detached-HEAD bundle
// workaround is known safe on; earlier releases have bundle-creation bugs
// on that path.
var MinVersion = struct{ Major, Minor int }{2, 31}

// CheckVersionSupported raises UnsupportedGitVersion if the installed git
// predates MinVersion.
func (d *Driver) CheckVersionSupported(ctx context.Context) {
    major, minor := d.Version(ctx)
    if major < MinVersion.Major || (major == MinVersion.Major && minor < MinVersion.Minor) {
        raise(&UnsupportedGitVersion{major, minor})
    }
}

type UnsupportedGitVersion struct {
    Major, Minor int
}

func (e *UnsupportedGitVersion) Error() string {
    return fmt.Sprintf("git %d.%d is too old (need >= %d.%d): the detached-HEAD bundle workaround is unsafe on older git",
        e.Major, e.Minor, MinVersion.Major, MinVersion.Minor)
}
