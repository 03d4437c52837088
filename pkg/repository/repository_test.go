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

package repository

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCommitMessageRoundTrip(t *testing.T) {
	meta := CommitMeta{
		Operation: OpAdd,
		When:      time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Submitter: "alice@example.org",
	}

	msg := meta.Message()
	if want := "add:2026-03-14T09:26:53Z:alice@example.org"; msg != want {
		t.Errorf("Message() = %q, want %q", msg, want)
	}

	parsed, ok := ParseCommitMessage(msg)
	if !ok {
		t.Fatalf("ParseCommitMessage(%q) not recognized", msg)
	}
	if !cmp.Equal(meta, parsed) {
		t.Errorf("round trip mismatch (-want, +got): %s", cmp.Diff(meta, parsed))
	}
}

func TestParseCommitMessageFirstLineOnly(t *testing.T) {
	msg := "revoke:2026-01-02T03:04:05Z:bob@example.org\n\nextra trailer text"
	parsed, ok := ParseCommitMessage(msg)
	if !ok {
		t.Fatalf("ParseCommitMessage(%q) not recognized", msg)
	}
	if parsed.Operation != OpRevoke || parsed.Submitter != "bob@example.org" {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestParseCommitMessageRejectsForeignMessages(t *testing.T) {
	for _, msg := range []string{
		"",
		"Merge branch 'main'",
		"add:not-a-timestamp:alice@example.org",
		"add:2026-03-14T09:26:53Z", // missing submitter separator
		"add2026-03-14T09:26:53Z:alice",
	} {
		if parsed, ok := ParseCommitMessage(msg); ok {
			t.Errorf("ParseCommitMessage(%q) = %+v, want rejection", msg, parsed)
		}
	}
}
