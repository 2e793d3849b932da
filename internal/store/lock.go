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

package store

import (
    "fmt"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "syscall"

    "lab.nexedi.com/kirr/git-ibundle/internal/xerr"
)

// Lock is the store's single-concurrent-invocation guard, acquired with
// O_EXCL over `ibundle/lock`. The metadata store, unlike a git ref, has
// no native transaction locking, so a plain pid-stamped lock file guards
// it instead.
type Lock struct {
    path string
}

// LockHeldError is raised by Acquire when another live process holds the
// lock.
type LockHeldError struct {
    Path string
    Pid  int
}

func (e *LockHeldError) Error() string {
    return fmt.Sprintf("%s: held by live process pid %d", e.Path, e.Pid)
}

// Acquire takes the store's lock, clearing it first if it was left behind
// by a process that is no longer running. Raises *LockHeldError if a live
// process holds it.
func (s *Store) Acquire() *Lock {
    path := filepath.Join(s.dir, "lock")
    here := myfuncname()

    for {
        fd, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
        if err == nil {
            fmt.Fprintf(fd, "%d\n", os.Getpid())
            raiseif(fd.Close())
            return &Lock{path: path}
        }
        if !os.IsExist(err) {
            raise(err)
        }

        pid, perr := readLockPid(path)
        if perr == nil && processAlive(pid) {
            raise(&LockHeldError{Path: path, Pid: pid})
        }

        // stale lock (unreadable, unparsable, or owning process is gone) - remove and retry.
        if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
            raise(xerr.AddCallingContext(here, xerr.AsError(err)))
        }
    }
}

// Release drops l, making the store available to the next Acquire.
func (l *Lock) Release() {
    raiseif(os.Remove(l.path))
}

// IsLocked reports whether the store's lock is currently held by a live
// process, without acquiring it. `clean` checks this before trimming, so
// it never races a create/fetch that is mid-way through recording a sync
// point.
func (s *Store) IsLocked() bool {
    path := filepath.Join(s.dir, "lock")
    pid, err := readLockPid(path)
    if err != nil {
        return false
    }
    return processAlive(pid)
}

func readLockPid(path string) (int, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return 0, err
    }
    return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether pid names a running process, using
// signal 0 (no-op, permission/existence probe only - this never actually
// signals the process).
func processAlive(pid int) bool {
    if pid <= 0 {
        return false
    }
    proc, err := os.FindProcess(pid)
    if err != nil {
        return false
    }
    err = proc.Signal(syscall.Signal(0))
    return err == nil
}
