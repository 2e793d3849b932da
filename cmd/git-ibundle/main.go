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

// Command git-ibundle incrementally mirrors a Git repository across a
// one-way file-transfer boundary: `create` emits self-describing ibundle
// files on the source side, `fetch` applies them in order on the
// destination side. Installed on PATH it is discoverable by Git itself as
// `git ibundle ...`.
package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "path/filepath"
    "runtime/debug"

    "lab.nexedi.com/kirr/git-ibundle/internal/gitexec"
    "lab.nexedi.com/kirr/git-ibundle/internal/ibundle"
    "lab.nexedi.com/kirr/git-ibundle/internal/store"
    "lab.nexedi.com/kirr/git-ibundle/internal/syncengine"
    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

var (
    raise   = xerr.Raise
    raiseif = xerr.Raiseif
)

// verbosity level; 0 is quiet, higher prints more.
var verbose = 1

func infof(format string, a ...interface{}) {
    if verbose > 0 {
        fmt.Fprintf(os.Stderr, format+"\n", a...)
    }
}

// parseWithVerbosity registers the per-subcommand -v/-q count flags
// (accepted both before and after the subcommand) and parses argv.
func parseWithVerbosity(flags *flag.FlagSet, argv []string) {
    quiet := 0
    flags.Var((*countFlag)(&verbose), "v", "increase verbosity")
    flags.Var((*countFlag)(&quiet), "q", "decrease verbosity")
    flags.Parse(argv)
    verbose -= quiet
}

// openRepo resolves the Git driver and the metadata store rooted at the
// current repository's git-dir ("<repo>/ibundle/" for bare repos,
// "<repo>/.git/ibundle/" otherwise - both collapse to "<git-dir>/ibundle").
func openRepo(ctx context.Context, d *gitexec.Driver) *store.Store {
    d.CheckVersionSupported(ctx)
    gitdir := d.GitDir(ctx)
    format := d.ObjectFormat(ctx)
    return store.Open(filepath.Join(gitdir, "ibundle"), format)
}

func cmd_create_usage() {
    fmt.Fprint(os.Stderr, `usage: git-ibundle create [options] <file>

  -basis N          basis sync point (default: the latest recorded one)
  -basis-current    record the current state as its own basis
  -standalone       force a self-contained ibundle (full_refs + prereq_oids)
  -allow-empty      do not refuse an ibundle with no changes since basis
  -v                increase verbosity
  -q                decrease verbosity
`)
}

func cmd_create(ctx context.Context, argv []string) {
    flags := flag.FlagSet{Usage: cmd_create_usage}
    flags.Init("create", flag.ExitOnError)
    basis := flags.Uint64("basis", 0, "basis sync point")
    basisCurrent := flags.Bool("basis-current", false, "basis equals the snapshot being recorded")
    standalone := flags.Bool("standalone", false, "force a standalone ibundle")
    allowEmpty := flags.Bool("allow-empty", false, "allow an ibundle with no changes")
    parseWithVerbosity(&flags, argv)

    rest := flags.Args()
    if len(rest) != 1 {
        cmd_create_usage()
        os.Exit(1)
    }
    outPath := rest[0]

    hasBasis := false
    flags.Visit(func(f *flag.Flag) {
        if f.Name == "basis" {
            hasBasis = true
        }
    })

    d := gitexec.New()
    st := openRepo(ctx, d)

    lock := st.Acquire()
    defer lock.Release()

    opts := syncengine.CreateOpts{
        HasBasis:     hasBasis,
        BasisSeqNum:  *basis,
        BasisCurrent: *basisCurrent,
        Standalone:   *standalone,
        AllowEmpty:   *allowEmpty,
        Progress:     verbose > 1,
    }

    ib := syncengine.Create(ctx, d, st, opts)
    raiseif(os.WriteFile(outPath, ibundle.Encode(ib), 0666))
    infof("# wrote %s: seq_num=%d basis_seq_num=%d standalone=%v", outPath, ib.SeqNum, ib.BasisSeqNum, ib.Standalone)
}

func cmd_fetch_usage() {
    fmt.Fprint(os.Stderr, `usage: git-ibundle fetch [options] <file>

  -dry-run    report what would happen without changing anything
  -force      accept an unverifiable basis (standalone ibundles only) or an uninitialized non-empty repo
  -v          increase verbosity
  -q          decrease verbosity
`)
}

func cmd_fetch(ctx context.Context, argv []string) {
    flags := flag.FlagSet{Usage: cmd_fetch_usage}
    flags.Init("fetch", flag.ExitOnError)
    dryRun := flags.Bool("dry-run", false, "dry run")
    force := flags.Bool("force", false, "force")
    parseWithVerbosity(&flags, argv)

    rest := flags.Args()
    if len(rest) != 1 {
        cmd_fetch_usage()
        os.Exit(1)
    }

    data, err := os.ReadFile(rest[0])
    raiseif(err)

    d := gitexec.New()
    st := openRepo(ctx, d)

    lock := st.Acquire()
    defer lock.Release()

    syncengine.Fetch(ctx, d, st, data, syncengine.FetchOpts{DryRun: *dryRun, Force: *force})
    infof("# fetched %s", rest[0])
}

func cmd_status_usage() {
    fmt.Fprint(os.Stderr, `usage: git-ibundle status [-long]

  -long, -verbose    print repo_id, max_seq_num, ref count, HEAD and object format
`)
}

func cmd_status(ctx context.Context, argv []string) {
    flags := flag.FlagSet{Usage: cmd_status_usage}
    flags.Init("status", flag.ExitOnError)
    long := flags.Bool("long", false, "long format")
    flags.BoolVar(long, "verbose", false, "alias for -long")
    flags.Parse(argv)

    d := gitexec.New()
    st := openRepo(ctx, d)

    id, hasId := st.Id()
    maxSeq := st.MaxSeqNum()

    if !*long {
        if hasId {
            fmt.Printf("repo_id %s  max_seq_num %d\n", id, maxSeq)
        } else {
            fmt.Printf("uninitialized  max_seq_num %d\n", maxSeq)
        }
        return
    }

    if hasId {
        fmt.Printf("repo_id        %s\n", id)
    } else {
        fmt.Printf("repo_id        uninitialized\n")
    }
    fmt.Printf("max_seq_num    %d\n", maxSeq)
    fmt.Printf("object_format  %s\n", st.Format())

    if maxSeq == 0 {
        fmt.Printf("head           (none)\n")
        fmt.Printf("refs           0\n")
        return
    }

    snap, ok := st.Get(maxSeq)
    if !ok {
        raise(fmt.Errorf("status: sync point %d missing from store", maxSeq))
    }
    switch {
    case !snap.Head.IsSet():
        fmt.Printf("head           (none)\n")
    case snap.Head.IsSymbolic():
        fmt.Printf("head           symbolic %s\n", snap.Head.Symbolic)
    default:
        fmt.Printf("head           detached %s\n", snap.Head.Detached)
    }
    fmt.Printf("refs           %d\n", len(snap.Refs))
}

func cmd_clean_usage() {
    fmt.Fprint(os.Stderr, `usage: git-ibundle clean -keep K

  -keep K    retain the K most recent sync points (K >= 1)
`)
}

func cmd_clean(ctx context.Context, argv []string) {
    flags := flag.FlagSet{Usage: cmd_clean_usage}
    flags.Init("clean", flag.ExitOnError)
    keep := flags.Uint("keep", 0, "sync points to retain")
    flags.Parse(argv)

    keepSet := false
    flags.Visit(func(f *flag.Flag) {
        if f.Name == "keep" {
            keepSet = true
        }
    })
    if !keepSet {
        cmd_clean_usage()
        os.Exit(1)
    }
    if *keep == 0 {
        fmt.Fprintln(os.Stderr, "E: -keep 0 is rejected; at least 1 sync point is always retained")
        os.Exit(1)
    }

    d := gitexec.New()
    st := openRepo(ctx, d)

    // refuse to trim while a concurrent create/fetch might be mid-way
    // through recording a sync point.
    if st.IsLocked() {
        raise(fmt.Errorf("clean: metadata store is locked by a live create/fetch; try again later"))
    }

    // RemoveBelow takes a seq_num threshold, but "keep the K most recent"
    // is a count - a store can have gaps from an earlier clean, so the
    // threshold has to be derived from the actual sync points present,
    // not from max_seq_num arithmetic.
    nv := st.SeqNums()
    threshold := uint64(0)
    if len(nv) > int(*keep) {
        threshold = nv[len(nv)-int(*keep)] - 1
    }
    st.RemoveBelow(threshold)
    infof("# cleaned: kept the %d most recent sync points", *keep)
}

func cmd_show_usage() {
    fmt.Fprint(os.Stderr, "usage: git-ibundle show <file>\n")
}

func cmd_show(ctx context.Context, argv []string) {
    flags := flag.FlagSet{Usage: cmd_show_usage}
    flags.Init("show", flag.ExitOnError)
    flags.Parse(argv)

    rest := flags.Args()
    if len(rest) != 1 {
        cmd_show_usage()
        os.Exit(1)
    }

    data, err := os.ReadFile(rest[0])
    raiseif(err)

    d := gitexec.New()
    format := d.ObjectFormat(ctx)

    ib, err := ibundle.Decode(data, format)
    if err != nil {
        if ib2, err2 := ibundle.Decode(data, format.Other()); err2 == nil {
            ib = ib2
        } else {
            raise(err)
        }
    }
    ibundle.Render(os.Stdout, ib)
}

var commands = map[string]func(context.Context, []string){
    "create": cmd_create,
    "fetch":  cmd_fetch,
    "status": cmd_status,
    "clean":  cmd_clean,
    "show":   cmd_show,
}

func usage() {
    fmt.Fprint(os.Stderr, `git-ibundle [options] <command>

    create    produce an ibundle capturing changes since a basis
    fetch     apply an ibundle to advance this repository
    status    report the metadata store's current state
    clean     trim old sync points, keeping the most recent ones
    show      decode and print an ibundle file's contents

  common options:

    -h --help       this help text.
    -v              increase verbosity.
    -q              decrease verbosity.
`)
}

func main() {
    flag.Usage = usage
    quiet := 0
    flag.Var((*countFlag)(&verbose), "v", "verbosity level")
    flag.Var((*countFlag)(&quiet), "q", "decrease verbosity")
    flag.Parse()
    verbose -= quiet
    argv := flag.Args()

    if len(argv) == 0 {
        usage()
        os.Exit(1)
    }

    cmd := commands[argv[0]]
    if cmd == nil {
        fmt.Fprintf(os.Stderr, "E: unknown command %q\n", argv[0])
        os.Exit(1)
    }

    here := xerr.FuncName()
    defer xerr.Catch(func(e *xerr.Error) {
        e = xerr.AddCallingContext(here, e)
        fmt.Fprintln(os.Stderr, e)

        if verbose > 2 {
            fmt.Fprint(os.Stderr, "\n")
            debug.PrintStack()
        }

        switch e.Unwrap().(type) {
        case *syncengine.EmptyIbundleRefused:
            os.Exit(3)
        }
        os.Exit(1)
    })

    ctx := context.Background()
    cmd(ctx, argv[1:])
}
