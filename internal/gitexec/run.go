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

// Package gitexec is a thin, typed contract for invoking `git`
// subcommands and reading their text output. All object-database and
// pack work is delegated to the git executable; this package only spawns
// it, drains its stdio and converts non-zero exits into errors.
// Cancellation is propagated by terminating the child via
// context.Context.
package gitexec

import (
    "bytes"
    "context"
    "os"
    "os/exec"
    "strings"

    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

var (
    raise  = xerr.Raise
    raiseif = xerr.Raiseif
    raisef = xerr.Raisef
)

// Redirect controls how a spawned git process's stdio is connected.
type Redirect int

const (
    Pipe        Redirect = iota // capture into a buffer (default)
    DontRedirect                // pass through to our own stdio, for progress bars
)

// RunOpts is the optional last argument to the run helpers below.
type RunOpts struct {
    Stdin  string
    Stdout Redirect
    Stderr Redirect
    Raw    bool              // !Raw -> Stdout/Stderr are whitespace-trimmed
    Env    map[string]string // non-nil -> replaces the child's environment
}

// GitErrContext carries enough of a failed invocation to render a useful
// error message (argv, what was piped in, what came back on stderr).
type GitErrContext struct {
    Argv   []string
    Stdin  string
    Stdout string
    Stderr string
}

func (e *GitErrContext) Error() string {
    msg := "git " + strings.Join(e.Argv, " ")
    if e.Stdin == "" {
        msg += " </dev/null\n"
    } else {
        msg += " <<EOF\n" + e.Stdin
        if !strings.HasSuffix(msg, "\n") {
            msg += "\n"
        }
        msg += "EOF\n"
    }
    msg += e.Stderr
    if !strings.HasSuffix(msg, "\n") {
        msg += "\n"
    }
    return msg
}

// GitError is returned when a `git` child process exits with a non-zero
// status. It is distinct from a Go-level failure to even start the child
// (that case raises directly - there's no sensible recovery from it).
type GitError struct {
    GitErrContext
    *exec.ExitError
}

func (e *GitError) Error() string {
    msg := e.GitErrContext.Error()
    if e.GitErrContext.Stderr == "" {
        msg += "(failed)\n"
    }
    return msg
}

// Driver runs `git` subcommands in the current process's working directory
// (which, when invoked as a `git-ibundle` helper, Git itself will already
// have chdir'ed to honor `-C <dir>` before exec'ing us).
type Driver struct{}

func New() *Driver { return &Driver{} }

// run executes `git argv...` and returns (error-if-nonzero-exit, stdout, stderr).
// A failure to even start git (missing executable, ...) raises immediately.
func (d *Driver) run(ctx context.Context, argv []string, opts RunOpts) (gerr *GitError, stdout, stderr string) {
    cmd := exec.CommandContext(ctx, "git", argv...)
    var stdoutBuf, stderrBuf bytes.Buffer

    if opts.Stdin != "" {
        cmd.Stdin = strings.NewReader(opts.Stdin)
    }

    switch opts.Stdout {
    case Pipe:
        cmd.Stdout = &stdoutBuf
    case DontRedirect:
        cmd.Stdout = os.Stdout
    default:
        panic("gitexec: invalid stdout redirect mode")
    }

    switch opts.Stderr {
    case Pipe:
        cmd.Stderr = &stderrBuf
    case DontRedirect:
        cmd.Stderr = os.Stderr
    default:
        panic("gitexec: invalid stderr redirect mode")
    }

    if opts.Env != nil {
        env := make([]string, 0, len(opts.Env))
        for k, v := range opts.Env {
            env = append(env, k+"="+v)
        }
        cmd.Env = env
    }

    err := cmd.Run()
    stdout = stdoutBuf.String()
    stderr = stderrBuf.String()
    if !opts.Raw {
        stdout = strings.TrimSpace(stdout)
        stderr = strings.TrimSpace(stderr)
    }

    if err != nil {
        if eexec, ok := err.(*exec.ExitError); ok {
            gerr = &GitError{GitErrContext{argv, opts.Stdin, stdout, stderr}, eexec}
        } else {
            raisef("git %s: %s", strings.Join(argv, " "), err)
        }
    }
    return gerr, stdout, stderr
}

// X runs `git argv...` and raises on any error (exit-status or exec
// failure), returning only stdout - the common case for read-only queries.
func (d *Driver) X(ctx context.Context, argv []string, opts RunOpts) string {
    gerr, stdout, _ := d.run(ctx, argv, opts)
    raiseif(gerrAsError(gerr))
    return stdout
}

// G runs `git argv...` without raising on a non-zero exit (the caller
// wants to inspect failure, e.g. `rev-parse --verify` on an empty repo).
func (d *Driver) G(ctx context.Context, argv []string, opts RunOpts) (err *GitError, stdout, stderr string) {
    return d.run(ctx, argv, opts)
}

func gerrAsError(gerr *GitError) error {
    if gerr == nil {
        return nil
    }
    return gerr
}
