// Copyright 2026 The gitks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the error handling used by the gitks codebase.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gitksdev/gitks/internal/types"
)

// Error is an implementation of the error interface used in the gitks
// codebase.
// It is based on the design in https://commandcenter.blogspot.com/2017/12/error-handling-in-upspin.html
type Error struct {
	// Fingerprint identifies the key involved in the operation, if any.
	Fingerprint types.Fingerprint

	// Op is the operation being performed, for ex. keystore.add, lease.acquire
	Op Op

	// Kind refers to the class of error
	Kind Kind

	// Err refers to wrapped error (if any)
	Err error
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}

	if e.Fingerprint != "" {
		pad(b, ": ")
		b.WriteString("key ")
		b.WriteString(string(e.Fingerprint))
	}

	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		if wrappedErr, ok := e.Err.(*Error); ok {
			if !wrappedErr.Zero() {
				pad(b, ":\n\t")
				b.WriteString(wrappedErr.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// pad appends given str to the string buffer.
func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Zero() bool {
	return e.Op == "" && e.Fingerprint == "" && e.Kind == 0 && e.Err == nil
}

// Op describes the operation being performed.
type Op string

// Kind describes the class of errors encountered.
type Kind int

const (
	Other              Kind = iota // Unclassified. Will not be printed.
	InvalidFingerprint             // Malformed key identifier.
	Codec                          // Malformed or undecodable key material.
	LeaseTimeout                   // Lease wait elapsed; transient contention.
	Conflict                       // Fingerprint mismatch during merge; integrity fault.
	Integrity                      // Ref content inconsistent with its own name.
	Exist                          // Item already exists.
	NotExist                       // Item does not exist.
	Internal                       // Internal error.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case InvalidFingerprint:
		return "invalid fingerprint"
	case Codec:
		return "malformed key material"
	case LeaseTimeout:
		return "lease wait timed out"
	case Conflict:
		return "fingerprint conflict"
	case Integrity:
		return "repository integrity fault"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case Internal:
		return "internal error"
	}
	return "unknown kind"
}

func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E must have at least one argument")
	}

	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case types.Fingerprint:
			e.Fingerprint = a
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case *Error:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		case string:
			e.Err = fmt.Errorf("%s", a)
		default:
			panic(fmt.Errorf("unknown type %T for value %v in call to errors.E", a, a))
		}
	}

	wrappedErr, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	if e.Fingerprint == wrappedErr.Fingerprint {
		wrappedErr.Fingerprint = ""
	}

	if e.Op == wrappedErr.Op {
		wrappedErr.Op = ""
	}

	if e.Kind == wrappedErr.Kind {
		wrappedErr.Kind = 0
	}

	return e
}

// KindOf returns the Kind of err, unwrapping until a classified Error is
// found. Unclassified errors report Other.
func KindOf(err error) Kind {
	for err != nil {
		e, ok := err.(*Error)
		if ok && e.Kind != Other {
			return e.Kind
		}
		err = errors.Unwrap(err)
	}
	return Other
}

// Is reports whether any error in err's chain is an Error of the given Kind.
func Is(kind Kind, err error) bool {
	return KindOf(err) == kind
}
