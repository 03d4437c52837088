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

package keystore

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/pkg/repository"
)

// metadataMarker separates the armored key payload from the derived
// metadata trailer in the stored object.
const metadataMarker = "-----BEGIN GITKS METADATA-----"

// metadata is the trailer persisted after the armored payload. It exists so
// the stored object is self-describing for humans and external tooling; the
// payload remains the single source of truth and the trailer is regenerated
// from it on every decode.
type metadata struct {
	Fingerprint string    `yaml:"fingerprint"`
	Identities  []string  `yaml:"identities,omitempty"`
	Subkeys     []string  `yaml:"subkeys,omitempty"`
	Revoked     bool      `yaml:"revoked"`
	UpdatedAt   time.Time `yaml:"updatedAt,omitempty"`
}

// Codec is the canonical (de)serialization of key records to and from
// stored bytes.
type Codec struct {
	parser repository.KeyParser
}

// NewCodec returns a codec deriving metadata through the given parser.
func NewCodec(parser repository.KeyParser) Codec {
	return Codec{parser: parser}
}

// Encode renders the canonical stored form: the armored payload followed by
// the metadata trailer.
func (c Codec) Encode(record *repository.KeyRecord) ([]byte, error) {
	const op errors.Op = "codec.encode"

	if len(record.Armored) == 0 {
		return nil, errors.E(op, errors.Codec, record.Fingerprint, "record has no armored payload")
	}

	meta := deriveMetadata(record)
	trailer, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, errors.E(op, errors.Codec, record.Fingerprint, err)
	}

	var buf bytes.Buffer
	buf.Write(record.Armored)
	if !bytes.HasSuffix(record.Armored, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(metadataMarker)
	buf.WriteByte('\n')
	buf.Write(trailer)
	return buf.Bytes(), nil
}

// Decode parses stored bytes back into a KeyRecord. The record is always
// rebuilt from the armored payload; the trailer is only consulted for
// fields that cannot be derived (UpdatedAt) and is repaired when it
// disagrees with the payload, never trusted blindly.
func (c Codec) Decode(data []byte) (*repository.KeyRecord, error) {
	const op errors.Op = "codec.decode"

	payload := data
	var stored metadata
	if i := bytes.Index(data, []byte(metadataMarker)); i >= 0 {
		payload = data[:i]
		trailer := data[i+len(metadataMarker):]
		if err := yaml.Unmarshal(trailer, &stored); err != nil {
			// A broken trailer is repairable; the payload decides.
			klog.V(2).Infof("discarding unparseable metadata trailer: %v", err)
			stored = metadata{}
		}
	}

	record, err := c.parser.ParseKey(bytes.TrimSpace(payload))
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}

	derived := deriveMetadata(record)
	if stored.Fingerprint != "" && !metadataEqual(stored, derived) {
		klog.V(2).Infof("repaired stale metadata trailer for key %s", record.Fingerprint)
	}
	record.UpdatedAt = stored.UpdatedAt
	return record, nil
}

func deriveMetadata(record *repository.KeyRecord) metadata {
	meta := metadata{
		Fingerprint: record.Fingerprint.String(),
		Revoked:     record.Revoked,
		UpdatedAt:   record.UpdatedAt,
	}
	for _, id := range record.Identities {
		meta.Identities = append(meta.Identities, id.ID)
	}
	for _, sk := range record.Subkeys {
		meta.Subkeys = append(meta.Subkeys, sk.Fingerprint.String())
	}
	return meta
}

func metadataEqual(a, b metadata) bool {
	if a.Fingerprint != b.Fingerprint || a.Revoked != b.Revoked {
		return false
	}
	return fmt.Sprint(a.Identities) == fmt.Sprint(b.Identities) &&
		fmt.Sprint(a.Subkeys) == fmt.Sprint(b.Subkeys)
}
