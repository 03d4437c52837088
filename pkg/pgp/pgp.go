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

// Package pgp implements the engine's OpenPGP capability on
// github.com/ProtonMail/go-crypto. It is the only package that touches key
// material at the packet level; the engine consumes it through
// repository.KeyParser and performs no cryptography of its own.
package pgp

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/gitksdev/gitks/internal/errors"
	"github.com/gitksdev/gitks/internal/types"
	"github.com/gitksdev/gitks/pkg/repository"
)

// Parser implements repository.KeyParser.
type Parser struct{}

var _ repository.KeyParser = Parser{}

// NewParser returns the production OpenPGP capability.
func NewParser() Parser {
	return Parser{}
}

// ParseKey parses one armored public key into a KeyRecord. Submissions
// carrying private key material, or more than one primary key, are rejected.
func (Parser) ParseKey(armored []byte) (*repository.KeyRecord, error) {
	const op errors.Op = "pgp.parseKey"

	entity, err := readEntity(armored)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}

	canonical, err := armorEntity(entity)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}

	record := buildRecord(entity)
	record.Armored = canonical
	return record, nil
}

// ParseRevocation parses a standalone key revocation certificate. Both
// armored and binary certificates are accepted.
func (Parser) ParseRevocation(cert []byte) (*repository.Revocation, error) {
	const op errors.Op = "pgp.parseRevocation"

	sig, err := readRevocationSignature(cert)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}

	rev := &repository.Revocation{
		Created: sig.CreationTime,
	}
	if sig.IssuerKeyId != nil {
		rev.IssuerKeyID = fmt.Sprintf("%016x", *sig.IssuerKeyId)
	}
	if sig.RevocationReason != nil {
		rev.Reason = sig.RevocationReasonText
	}
	return rev, nil
}

// Combine merges two armored versions of the same key into the union of
// their packets. Nothing is ever dropped: identities, subkeys, signatures
// and revocations accumulate, which is what makes revocation sticky at the
// key-material level.
func (Parser) Combine(a, b []byte) ([]byte, error) {
	const op errors.Op = "pgp.combine"

	ea, err := readEntity(a)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}
	eb, err := readEntity(b)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}

	fpA := types.FingerprintFromBytes(ea.PrimaryKey.Fingerprint)
	fpB := types.FingerprintFromBytes(eb.PrimaryKey.Fingerprint)
	if fpA != fpB {
		return nil, errors.E(op, errors.Conflict, fpA,
			fmt.Errorf("cannot combine key material of distinct keys %s and %s", fpA, fpB))
	}

	mergeEntity(ea, eb)

	combined, err := armorEntity(ea)
	if err != nil {
		return nil, errors.E(op, errors.Codec, fpA, err)
	}
	return combined, nil
}

// ApplyRevocation verifies cert against the key in armored and returns the
// key material with the revocation signature embedded in it.
func (Parser) ApplyRevocation(armored, cert []byte) ([]byte, error) {
	const op errors.Op = "pgp.applyRevocation"

	entity, err := readEntity(armored)
	if err != nil {
		return nil, errors.E(op, errors.Codec, err)
	}
	fp := types.FingerprintFromBytes(entity.PrimaryKey.Fingerprint)

	sig, err := readRevocationSignature(cert)
	if err != nil {
		return nil, errors.E(op, errors.Codec, fp, err)
	}

	if err := entity.PrimaryKey.VerifyRevocationSignature(sig); err != nil {
		return nil, errors.E(op, errors.Codec, fp,
			fmt.Errorf("revocation certificate does not verify against key: %w", err))
	}

	if !containsSignature(entity.Revocations, sig) {
		entity.Revocations = append(entity.Revocations, sig)
	}

	revoked, err := armorEntity(entity)
	if err != nil {
		return nil, errors.E(op, errors.Codec, fp, err)
	}
	return revoked, nil
}

func readEntity(armored []byte) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("cannot parse armored key material: %w", err)
	}
	if len(entities) != 1 {
		return nil, fmt.Errorf("expected exactly one key in submission, got %d", len(entities))
	}
	entity := entities[0]
	if entity.PrivateKey != nil {
		return nil, fmt.Errorf("submission contains private key material")
	}
	return entity, nil
}

// readRevocationSignature extracts the key revocation signature packet from
// an armored or binary certificate.
func readRevocationSignature(cert []byte) (*packet.Signature, error) {
	body := io.Reader(bytes.NewReader(cert))
	if bytes.Contains(cert, []byte("-----BEGIN PGP")) {
		block, err := armor.Decode(bytes.NewReader(cert))
		if err != nil {
			return nil, fmt.Errorf("cannot decode armored certificate: %w", err)
		}
		body = block.Body
	}

	reader := packet.NewReader(body)
	for {
		p, err := reader.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("certificate contains no key revocation signature")
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read certificate packets: %w", err)
		}
		sig, ok := p.(*packet.Signature)
		if !ok {
			continue
		}
		if sig.SigType == packet.SigTypeKeyRevocation {
			return sig, nil
		}
	}
}

func armorEntity(entity *openpgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := entity.Serialize(w); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func buildRecord(entity *openpgp.Entity) *repository.KeyRecord {
	primary := entity.PrimaryKey
	fp := types.FingerprintFromBytes(primary.Fingerprint)
	primaryID := fmt.Sprintf("%016x", primary.KeyId)

	record := &repository.KeyRecord{
		Fingerprint: fp,
		Revoked:     len(entity.Revocations) > 0,
	}

	for _, sig := range entity.Revocations {
		record.Signatures = append(record.Signatures, newSignature(sig, primaryID, fp.String()))
	}

	for _, ident := range entity.Identities {
		id := repository.Identity{
			ID: ident.Name,
		}
		if ident.UserId != nil {
			id.Name = ident.UserId.Name
			id.Email = strings.ToLower(ident.UserId.Email)
		}
		if ident.SelfSignature != nil {
			id.SelfSigCreated = ident.SelfSignature.CreationTime
			record.Signatures = append(record.Signatures, newSignature(ident.SelfSignature, primaryID, ident.Name))
		}
		for _, sig := range ident.Signatures {
			record.Signatures = append(record.Signatures, newSignature(sig, primaryID, ident.Name))
		}
		record.Identities = append(record.Identities, id)
	}

	for _, subkey := range entity.Subkeys {
		skFP := types.FingerprintFromBytes(subkey.PublicKey.Fingerprint)
		record.Subkeys = append(record.Subkeys, repository.Subkey{
			Fingerprint: skFP,
			Created:     subkey.PublicKey.CreationTime,
		})
		if subkey.Sig != nil {
			record.Signatures = append(record.Signatures, newSignature(subkey.Sig, primaryID, skFP.String()))
		}
	}

	sortRecord(record)
	return record
}

func newSignature(sig *packet.Signature, primaryID, target string) repository.Signature {
	issuer := primaryID
	if sig.IssuerKeyId != nil {
		issuer = fmt.Sprintf("%016x", *sig.IssuerKeyId)
	}
	return repository.Signature{
		Issuer:  issuer,
		Target:  target,
		Created: sig.CreationTime,
		Type:    uint8(sig.SigType),
	}
}

// sortRecord orders the derived sets so that records built from equivalent
// key material compare equal byte for byte.
func sortRecord(record *repository.KeyRecord) {
	sort.Slice(record.Identities, func(i, j int) bool {
		return record.Identities[i].ID < record.Identities[j].ID
	})
	sort.Slice(record.Subkeys, func(i, j int) bool {
		return record.Subkeys[i].Fingerprint < record.Subkeys[j].Fingerprint
	})
	sort.Slice(record.Signatures, func(i, j int) bool {
		a, b := record.Signatures[i], record.Signatures[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Issuer != b.Issuer {
			return a.Issuer < b.Issuer
		}
		return a.Created.Before(b.Created)
	})
}

// mergeEntity folds src into dst, packet union with per-set de-duplication.
func mergeEntity(dst, src *openpgp.Entity) {
	for _, sig := range src.Revocations {
		if !containsSignature(dst.Revocations, sig) {
			dst.Revocations = append(dst.Revocations, sig)
		}
	}

	for name, ident := range src.Identities {
		existing, ok := dst.Identities[name]
		if !ok {
			dst.Identities[name] = ident
			continue
		}
		// The newest self-signature wins; third-party certifications
		// accumulate.
		if ident.SelfSignature != nil &&
			(existing.SelfSignature == nil || ident.SelfSignature.CreationTime.After(existing.SelfSignature.CreationTime)) {
			existing.SelfSignature = ident.SelfSignature
		}
		for _, sig := range ident.Signatures {
			if !containsSignature(existing.Signatures, sig) {
				existing.Signatures = append(existing.Signatures, sig)
			}
		}
	}

	for i := range src.Subkeys {
		subkey := src.Subkeys[i]
		if !hasSubkey(dst, subkey.PublicKey.Fingerprint) {
			dst.Subkeys = append(dst.Subkeys, subkey)
		}
	}
}

func hasSubkey(entity *openpgp.Entity, fingerprint []byte) bool {
	for i := range entity.Subkeys {
		if bytes.Equal(entity.Subkeys[i].PublicKey.Fingerprint, fingerprint) {
			return true
		}
	}
	return false
}

// containsSignature de-duplicates by (issuer, type, creation time), the
// identity of a signature for merge purposes.
func containsSignature(sigs []*packet.Signature, sig *packet.Signature) bool {
	for _, s := range sigs {
		if s.SigType != sig.SigType || !s.CreationTime.Equal(sig.CreationTime) {
			continue
		}
		if issuerOf(s) == issuerOf(sig) {
			return true
		}
	}
	return false
}

func issuerOf(sig *packet.Signature) uint64 {
	if sig.IssuerKeyId == nil {
		return 0
	}
	return *sig.IssuerKeyId
}
