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

// Package xerr provides the panic/recover "raise" idiom used throughout
// git-ibundle instead of threading `error` through every return.
//
// A function that hits a fatal condition calls Raise/Raiseif/Raisef instead
// of returning an error; some enclosing frame installs Catch via defer to
// turn the panic back into a reported error. Context accumulates on the way
// up via AddContext/AddCallingContext, so a top-level error message reads
// as a call-stack of "while doing X: while doing Y: root cause" without
// every intermediate function needing an `if err != nil { return ... }`.
package xerr

import (
    "fmt"
    "runtime"
)

// Error is the concrete type every panic raised through this package carries.
type Error struct {
    contextv []string // outermost first
    cause    interface{}
}

func (e *Error) Error() string {
    msg := ""
    for _, ctx := range e.contextv {
        msg += ctx + ": "
    }
    switch cause := e.cause.(type) {
    case error:
        msg += cause.Error()
    default:
        msg += fmt.Sprint(cause)
    }
    return msg
}

// Unwrap lets Error participate in errors.Is/errors.As chains when the
// innermost cause is itself an error.
func (e *Error) Unwrap() error {
    if err, ok := e.cause.(error); ok {
        return err
    }
    return nil
}

// Raise panics with x wrapped as *Error (x may already be an *Error, an
// error, or any value with a sensible String()/Error()).
func Raise(x interface{}) {
    if e, ok := x.(*Error); ok {
        panic(e)
    }
    panic(&Error{cause: x})
}

// Raiseif calls Raise(err) if err != nil.
func Raiseif(err error) {
    if err != nil {
        Raise(err)
    }
}

// Raisef formats a message and raises it, like fmt.Errorf but fatal.
func Raisef(format string, argv ...interface{}) {
    Raise(fmt.Errorf(format, argv...))
}

// AsError converts a recovered value into *Error, wrapping it if it isn't
// already one (e.g. a plain panic from a third-party library).
func AsError(x interface{}) *Error {
    if e, ok := x.(*Error); ok {
        return e
    }
    if err, ok := x.(error); ok {
        return &Error{cause: err}
    }
    return &Error{cause: x}
}

// AddContext prepends a free-form context line to e and returns the (same,
// mutated) *Error for chaining at call sites: `e = xerr.AddContext(e, "...")`.
func AddContext(e *Error, context string) *Error {
    e.contextv = append([]string{context}, e.contextv...)
    return e
}

// AddCallingContext prepends "<funcname>:" context, mirroring the
// `defer errcatch(func(e *Error) { e = erraddcallingcontext(here, e) })`
// idiom: `here` is captured once at function entry via FuncName().
func AddCallingContext(funcname string, e *Error) *Error {
    return AddContext(e, funcname)
}

// Catch recovers a panic raised via this package at the current defer
// point and hands it to f as *Error; panics with any other value (not
// initiated through Raise) are re-raised unchanged.
func Catch(f func(e *Error)) {
    r := recover()
    if r == nil {
        return
    }
    e, ok := r.(*Error)
    if !ok {
        panic(r)
    }
    f(e)
}

// FuncName returns the name of the function that calls it - i.e. call it
// at the top of a function to name that function itself, for use with
// AddCallingContext.
func FuncName() string {
    pc, _, _, ok := runtime.Caller(1)
    if !ok {
        return "?"
    }
    fn := runtime.FuncForPC(pc)
    if fn == nil {
        return "?"
    }
    return fn.Name()
}

// Traceback returns the current goroutine's call stack, skipping `skip`
// innermost frames (0 = caller of Traceback itself).
func Traceback(skip int) []runtime.Frame {
    pc := make([]uintptr, 64)
    n := runtime.Callers(skip+2, pc)
    framesv := runtime.CallersFrames(pc[:n])
    out := []runtime.Frame{}
    for {
        f, more := framesv.Next()
        out = append(out, f)
        if !more {
            break
        }
    }
    return out
}
