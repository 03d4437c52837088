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

package errors

import (
	"fmt"
	"testing"

	"github.com/gitksdev/gitks/internal/types"
)

const testFingerprint = types.Fingerprint("0123456789abcdef0123456789abcdef01234567")

func TestErrorString(t *testing.T) {
	err := E(Op("keystore.add"), testFingerprint, Codec, fmt.Errorf("bad packet"))
	want := "keystore.add: key 0123456789abcdef0123456789abcdef01234567: malformed key material: bad packet"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNestedErrorDropsDuplicates(t *testing.T) {
	inner := E(Op("pgp.parseKey"), Codec, fmt.Errorf("truncated armor"))
	outer := E(Op("keystore.add"), testFingerprint, Codec, inner)

	e, ok := outer.(*Error)
	if !ok {
		t.Fatalf("E returned %T, want *Error", outer)
	}
	wrapped, ok := e.Err.(*Error)
	if !ok {
		t.Fatalf("wrapped error is %T, want *Error", e.Err)
	}
	// The duplicated kind collapses into the outer error.
	if wrapped.Kind != 0 {
		t.Errorf("inner kind not collapsed: %v", wrapped.Kind)
	}
	if wrapped.Op != "pgp.parseKey" {
		t.Errorf("inner op = %q, want pgp.parseKey", wrapped.Op)
	}
}

func TestKindOf(t *testing.T) {
	leaf := fmt.Errorf("root cause")
	err := E(Op("lease.acquire"), LeaseTimeout, E(Op("inner"), leaf))

	if got := KindOf(err); got != LeaseTimeout {
		t.Errorf("KindOf = %v, want LeaseTimeout", got)
	}
	if got := KindOf(leaf); got != Other {
		t.Errorf("KindOf(plain error) = %v, want Other", got)
	}
	if got := KindOf(nil); got != Other {
		t.Errorf("KindOf(nil) = %v, want Other", got)
	}
}

func TestIs(t *testing.T) {
	err := E(Op("git.readTip"), testFingerprint, Integrity, fmt.Errorf("dangling ref"))
	if !Is(Integrity, err) {
		t.Errorf("Is(Integrity) = false, want true")
	}
	if Is(LeaseTimeout, err) {
		t.Errorf("Is(LeaseTimeout) = true, want false")
	}
}
