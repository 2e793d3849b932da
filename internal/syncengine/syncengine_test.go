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

// End-to-end tests driving Create/Fetch against real `git` repositories:
// build a source repository with real commits/branches/tags, mirror it
// via ibundle files into a destination, and check the destination
// converges to the same show-ref/HEAD/fsck-clean state as the source.
package syncengine

import (
    "context"
    "os"
    "os/exec"
    "path/filepath"
    "strings"
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"

    "lab.nexedi.com/kirr/git-ibundle/internal/gitexec"
    "lab.nexedi.com/kirr/git-ibundle/internal/ibundle"
    "lab.nexedi.com/kirr/git-ibundle/internal/packutil"
    "lab.nexedi.com/kirr/git-ibundle/internal/store"
    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

func xsh(t *testing.T, dir string, args ...string) string {
    t.Helper()
    cmd := exec.Command("git", args...)
    cmd.Dir = dir
    cmd.Env = append(os.Environ(),
        "GIT_AUTHOR_NAME=tester", "GIT_AUTHOR_EMAIL=tester@example.com",
        "GIT_COMMITTER_NAME=tester", "GIT_COMMITTER_EMAIL=tester@example.com",
    )
    out, err := cmd.CombinedOutput()
    require.NoError(t, err, "git %v (in %s) failed: %s", args, dir, out)
    return strings.TrimSpace(string(out))
}

// xshowRef is like xsh(t, dir, "show-ref") but tolerates the "no refs yet"
// exit status 1 that an empty repository gives.
func xshowRef(t *testing.T, dir string) string {
    t.Helper()
    cmd := exec.Command("git", "show-ref")
    cmd.Dir = dir
    out, err := cmd.CombinedOutput()
    if err != nil {
        if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 && len(out) == 0 {
            return ""
        }
        t.Fatalf("git show-ref in %s: %v: %s", dir, err, out)
    }
    return strings.TrimSpace(string(out))
}

func xwrite(t *testing.T, path, content string) {
    t.Helper()
    require.NoError(t, os.WriteFile(path, []byte(content), 0666))
}

// xchdir switches the process cwd to dir (Driver resolves the repo it
// drives from the process's working directory, exactly as Git itself
// chdirs before exec'ing a `git-ibundle` helper) and returns a func that
// restores the previous cwd.
func xchdir(t *testing.T, dir string) func() {
    t.Helper()
    prev, err := os.Getwd()
    require.NoError(t, err)
    require.NoError(t, os.Chdir(dir))
    return func() { require.NoError(t, os.Chdir(prev)) }
}

func openStoreHere(t *testing.T, ctx context.Context, d *gitexec.Driver) *store.Store {
    t.Helper()
    gitdir := d.GitDir(ctx)
    format := d.ObjectFormat(ctx)
    return store.Open(filepath.Join(gitdir, "ibundle"), format)
}

func doCreate(t *testing.T, ctx context.Context, repoDir string, opts CreateOpts) ibundle.Ibundle {
    t.Helper()
    restore := xchdir(t, repoDir)
    defer restore()
    d := gitexec.New()
    st := openStoreHere(t, ctx, d)
    return Create(ctx, d, st, opts)
}

func doFetch(t *testing.T, ctx context.Context, repoDir string, ib ibundle.Ibundle, opts FetchOpts) {
    t.Helper()
    restore := xchdir(t, repoDir)
    defer restore()
    d := gitexec.New()
    st := openStoreHere(t, ctx, d)
    Fetch(ctx, d, st, ibundle.Encode(ib), opts)
}

func doFsck(t *testing.T, repoDir string) {
    t.Helper()
    xsh(t, repoDir, "fsck", "--full")
}

// withXerr runs body, converting any panic raised via internal/xerr into
// a t.Fatalf with full context.
func withXerr(t *testing.T, body func()) {
    t.Helper()
    here := xerr.FuncName()
    defer xerr.Catch(func(e *xerr.Error) {
        t.Fatalf("%s", xerr.AddCallingContext(here, e).Error())
    })
    body()
}

// TestCreateFetchBasicLifecycle walks the mirror through its basic life:
// an empty repository, a populated one with branches and tags, a no-op
// standalone resync, and a round of ref additions/deletions.
func TestCreateFetchBasicLifecycle(t *testing.T) {
    ctx := context.Background()
    workdir := t.TempDir()
    srcDir := filepath.Join(workdir, "src")
    dstDir := filepath.Join(workdir, "dst.git")

    require.NoError(t, os.MkdirAll(srcDir, 0777))
    xsh(t, workdir, "init", "-q", "-b", "main", srcDir)
    xsh(t, workdir, "init", "-q", "--bare", "-b", "main", dstDir)

    withXerr(t, func() {
        // round 1: empty repository.
        ib1 := doCreate(t, ctx, srcDir, CreateOpts{})
        require.Equal(t, uint64(1), ib1.SeqNum)
        require.Equal(t, uint64(0), ib1.BasisSeqNum)
        require.True(t, ib1.Standalone)
        require.Equal(t, packutil.EmptyPack, ib1.Pack) // the synthesized empty PACK
        require.Empty(t, ib1.FullRefs)
        require.True(t, ib1.Head.Present)
        require.True(t, ib1.Head.Symbolic)
        require.Equal(t, "refs/heads/main", ib1.Head.Name)

        doFetch(t, ctx, dstDir, ib1, FetchOpts{})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))
        require.Equal(t, "", xshowRef(t, dstDir))

        // round 2: three commits, a branch, a lightweight tag, an annotated tag.
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello\n")
        xsh(t, srcDir, "add", "a.txt")
        xsh(t, srcDir, "commit", "-q", "-m", "c1")
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello again\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c2")
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello once more\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c3")
        xsh(t, srcDir, "branch", "branch1")
        xsh(t, srcDir, "tag", "tag1")
        xsh(t, srcDir, "tag", "-a", "-m", "annotated", "atag1")

        ib2 := doCreate(t, ctx, srcDir, CreateOpts{})
        require.Equal(t, uint64(2), ib2.SeqNum)
        require.Equal(t, uint64(1), ib2.BasisSeqNum)
        require.False(t, ib2.Standalone)
        require.NotEmpty(t, ib2.Pack)
        require.Len(t, ib2.Mutations, 4) // main, branch1, tag1, atag1 all new

        doFetch(t, ctx, dstDir, ib2, FetchOpts{})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))
        doFsck(t, dstDir)

        // round 3: no change since round 2, forced standalone + allow-empty.
        ib3 := doCreate(t, ctx, srcDir, CreateOpts{Standalone: true, AllowEmpty: true})
        require.Equal(t, uint64(3), ib3.SeqNum)
        require.Equal(t, uint64(2), ib3.BasisSeqNum)
        require.True(t, ib3.Standalone)
        require.Empty(t, ib3.Mutations)

        doFetch(t, ctx, dstDir, ib3, FetchOpts{})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))

        // create with no allow-empty must refuse at this point (nothing changed).
        restore := xchdir(t, srcDir)
        d := gitexec.New()
        st := openStoreHere(t, ctx, d)
        func() {
            defer func() {
                r := recover()
                require.NotNil(t, r, "Create should have refused an empty ibundle")
                e := xerr.AsError(r)
                _, ok := e.Unwrap().(*EmptyIbundleRefused)
                require.True(t, ok, "expected EmptyIbundleRefused, got %v", e)
            }()
            Create(ctx, d, st, CreateOpts{})
        }()
        restore()

        // round 4: delete branch1/tag1, add main2/tag2/atag2, advance main.
        xsh(t, srcDir, "branch", "-D", "branch1")
        xsh(t, srcDir, "tag", "-d", "tag1")
        xsh(t, srcDir, "branch", "main2")
        xsh(t, srcDir, "tag", "tag2")
        xsh(t, srcDir, "tag", "-a", "-m", "annotated2", "atag2")
        xwrite(t, filepath.Join(srcDir, "a.txt"), "round two\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c4")

        ib4 := doCreate(t, ctx, srcDir, CreateOpts{})
        require.Equal(t, uint64(4), ib4.SeqNum)
        require.Equal(t, uint64(3), ib4.BasisSeqNum)
        require.False(t, ib4.Standalone)

        doFetch(t, ctx, dstDir, ib4, FetchOpts{})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))
        doFsck(t, dstDir)

        // re-applying the very same ibundle file must be safe to retry
        // (e.g. after a transfer that was believed to have failed) and
        // must not corrupt the destination.
        doFetch(t, ctx, dstDir, ib4, FetchOpts{Force: true})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))
        doFsck(t, dstDir)
    })
}

// TestCreateFetchDetachedHead exercises the synthetic refs/heads/HEAD-<oid>
// workaround: a commit made while HEAD is detached and reachable through
// no branch must still survive the trip.
func TestCreateFetchDetachedHead(t *testing.T) {
    ctx := context.Background()
    workdir := t.TempDir()
    srcDir := filepath.Join(workdir, "src")
    dstDir := filepath.Join(workdir, "dst.git")

    require.NoError(t, os.MkdirAll(srcDir, 0777))
    xsh(t, workdir, "init", "-q", "-b", "main", srcDir)
    xsh(t, workdir, "init", "-q", "--bare", "-b", "main", dstDir)

    withXerr(t, func() {
        xwrite(t, filepath.Join(srcDir, "a.txt"), "v1\n")
        xsh(t, srcDir, "add", "a.txt")
        xsh(t, srcDir, "commit", "-q", "-m", "c1")
        c1 := xsh(t, srcDir, "rev-parse", "HEAD")

        xwrite(t, filepath.Join(srcDir, "a.txt"), "v2\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c2")

        ib1 := doCreate(t, ctx, srcDir, CreateOpts{})
        doFetch(t, ctx, dstDir, ib1, FetchOpts{})
        require.Equal(t, xshowRef(t, srcDir), xshowRef(t, dstDir))

        // detach HEAD at c1, no other change.
        xsh(t, srcDir, "checkout", "-q", c1)

        ib2 := doCreate(t, ctx, srcDir, CreateOpts{})
        require.True(t, ib2.Head.Present)
        require.False(t, ib2.Head.Symbolic)
        require.Equal(t, c1, ib2.Head.Oid.String())

        doFetch(t, ctx, dstDir, ib2, FetchOpts{})
        dstHead := xsh(t, dstDir, "rev-parse", "HEAD")
        require.Equal(t, c1, dstHead)
        symbolicErr := exec.Command("git", "symbolic-ref", "--quiet", "HEAD")
        symbolicErr.Dir = dstDir
        require.Error(t, symbolicErr.Run(), "destination HEAD should be detached")

        // a new commit made only on the detached HEAD, unreferenced by
        // any branch - the synthetic-ref workaround must still carry it.
        xwrite(t, filepath.Join(srcDir, "a.txt"), "v3 (detached)\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c3 on detached head")
        c3 := xsh(t, srcDir, "rev-parse", "HEAD")

        ib3 := doCreate(t, ctx, srcDir, CreateOpts{})
        require.Empty(t, ib3.Mutations) // no ref changed, only detached HEAD moved
        require.NotEmpty(t, ib3.Pack)

        doFetch(t, ctx, dstDir, ib3, FetchOpts{})
        xsh(t, dstDir, "cat-file", "-e", c3) // object must now be present
        require.Equal(t, c3, xsh(t, dstDir, "rev-parse", "HEAD"))
        doFsck(t, dstDir)

        // the workaround ref must never leak into either repository.
        require.NotContains(t, xshowRef(t, srcDir), "HEAD-")
        require.NotContains(t, xshowRef(t, dstDir), "HEAD-")
    })
}

// TestCreateFetchTagOnTreeSurvivesTransport covers the historical
// Linux-kernel-style tag-on-tree case end-to-end: an annotated tag whose
// peeled target is a tree must not contribute a prerequisite (checked
// directly on the ibundle, mirroring internal/refsnap's
// TestClassifyCommitPrereqsExcludesNonCommitTags), but the tag object
// itself must still arrive in the PACK and be fetchable at the
// destination.
func TestCreateFetchTagOnTreeSurvivesTransport(t *testing.T) {
    ctx := context.Background()
    workdir := t.TempDir()
    srcDir := filepath.Join(workdir, "src")
    dstDir := filepath.Join(workdir, "dst.git")

    require.NoError(t, os.MkdirAll(srcDir, 0777))
    xsh(t, workdir, "init", "-q", "-b", "main", srcDir)
    xsh(t, workdir, "init", "-q", "--bare", "-b", "main", dstDir)

    withXerr(t, func() {
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello\n")
        xsh(t, srcDir, "add", "a.txt")
        xsh(t, srcDir, "commit", "-q", "-m", "c1")
        treeOid := xsh(t, srcDir, "rev-parse", "HEAD^{tree}")

        xsh(t, srcDir, "tag", "-a", "-m", "tag on tree (historical kernel tag style)", "tagtree", treeOid)
        tagOid := xsh(t, srcDir, "rev-parse", "refs/tags/tagtree")

        ib := doCreate(t, ctx, srcDir, CreateOpts{Standalone: true})
        for _, p := range ib.PrereqOids {
            require.NotEqual(t, treeOid, p.String(), "a tag peeling to a tree must not become a prerequisite")
        }
        require.NotEmpty(t, ib.Pack)

        doFetch(t, ctx, dstDir, ib, FetchOpts{})
        require.Equal(t, "tag", xsh(t, dstDir, "cat-file", "-t", tagOid))
        require.Equal(t, treeOid, xsh(t, dstDir, "rev-parse", tagOid+"^{tree}"))
        doFsck(t, dstDir)
    })
}

// TestFetchDryRunNoSideEffects: applying an ibundle with DryRun must
// leave both the destination's refs and its metadata store untouched.
func TestFetchDryRunNoSideEffects(t *testing.T) {
    ctx := context.Background()
    workdir := t.TempDir()
    srcDir := filepath.Join(workdir, "src")
    dstDir := filepath.Join(workdir, "dst.git")

    require.NoError(t, os.MkdirAll(srcDir, 0777))
    xsh(t, workdir, "init", "-q", "-b", "main", srcDir)
    xsh(t, workdir, "init", "-q", "--bare", "-b", "main", dstDir)

    withXerr(t, func() {
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello\n")
        xsh(t, srcDir, "add", "a.txt")
        xsh(t, srcDir, "commit", "-q", "-m", "c1")

        ib1 := doCreate(t, ctx, srcDir, CreateOpts{})
        doFetch(t, ctx, dstDir, ib1, FetchOpts{})

        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello again\n")
        xsh(t, srcDir, "commit", "-q", "-am", "c2")
        ib2 := doCreate(t, ctx, srcDir, CreateOpts{})

        restore := xchdir(t, dstDir)
        d := gitexec.New()
        st := openStoreHere(t, ctx, d)
        maxSeqBefore := st.MaxSeqNum()
        snapBefore, okBefore := st.Get(maxSeqBefore)
        require.True(t, okBefore)
        restore()

        refsBefore := xshowRef(t, dstDir)
        headBefore := xsh(t, dstDir, "rev-parse", "HEAD")

        doFetch(t, ctx, dstDir, ib2, FetchOpts{DryRun: true})

        require.Equal(t, refsBefore, xshowRef(t, dstDir), "dry-run must not change any ref")
        require.Equal(t, headBefore, xsh(t, dstDir, "rev-parse", "HEAD"), "dry-run must not move HEAD")

        restore = xchdir(t, dstDir)
        st2 := openStoreHere(t, ctx, d)
        maxSeqAfter := st2.MaxSeqNum()
        snapAfter, okAfter := st2.Get(maxSeqAfter)
        restore()

        require.Equal(t, maxSeqBefore, maxSeqAfter, "dry-run must not record a new sync point")
        require.True(t, okAfter)
        require.Equal(t, snapBefore, snapAfter, "dry-run must not alter the stored sync point")
    })
}

// TestFetchRepoIdMismatchFailsEvenWithForce: a fetch with a wrong repo_id
// fails even under Force - the identity check must fire before the
// Force-gated uninitialized/missing-basis checks ever get a chance to
// waive anything.
func TestFetchRepoIdMismatchFailsEvenWithForce(t *testing.T) {
    ctx := context.Background()
    workdir := t.TempDir()
    srcDir := filepath.Join(workdir, "src")
    dstDir := filepath.Join(workdir, "dst.git")

    require.NoError(t, os.MkdirAll(srcDir, 0777))
    xsh(t, workdir, "init", "-q", "-b", "main", srcDir)
    xsh(t, workdir, "init", "-q", "--bare", "-b", "main", dstDir)

    withXerr(t, func() {
        xwrite(t, filepath.Join(srcDir, "a.txt"), "hello\n")
        xsh(t, srcDir, "add", "a.txt")
        xsh(t, srcDir, "commit", "-q", "-m", "c1")

        ib := doCreate(t, ctx, srcDir, CreateOpts{})
        // establish the destination's stored repo_id with a legitimate fetch first.
        doFetch(t, ctx, dstDir, ib, FetchOpts{})

        foreign := ib
        foreign.RepoId = uuid.New()
        require.NotEqual(t, ib.RepoId, foreign.RepoId)

        func() {
            defer func() {
                r := recover()
                require.NotNil(t, r, "Fetch should have refused a foreign repo_id even with Force")
                e := xerr.AsError(r)
                mismatch, ok := e.Unwrap().(*RepoIdMismatch)
                require.True(t, ok, "expected RepoIdMismatch, got %v", e)
                require.Equal(t, ib.RepoId, mismatch.Stored)
                require.Equal(t, foreign.RepoId, mismatch.Ibundle)
            }()
            doFetch(t, ctx, dstDir, foreign, FetchOpts{Force: true})
        }()
    })
}
