// Copyright 2016 The Sandpass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keepass

import (
	"crypto/sha256"
	"io"
	"io/ioutil"
	"log"

	"kdbxreader/pkg/kdbcrypt"
)

// Logger receives diagnostics for conditions this package repairs or
// tolerates rather than failing on: non-strict XML repairs, unknown
// header fields, and similar. It defaults to discarding everything;
// callers that want to see these set keepass.Logger themselves.
var Logger = log.New(ioutil.Discard, "keepass: ", 0)

// KeyComponent contributes bytes to a database's composite key. The
// contributions of every component in a CompositeKey are concatenated,
// in order, and hashed with SHA-256 to produce kdbcrypt.Key.Composite.
type KeyComponent interface {
	Contribution() ([]byte, error)
}

// CompositeKey is an ordered list of KeyComponents. Order matters: two
// CompositeKeys with the same components in a different order produce
// different composite keys. A master password alone is the common
// case, but any number of components may be combined (password plus
// key file, password plus challenge-response, all three, or,
// unusually, none).
type CompositeKey []KeyComponent

// hash concatenates every component's contribution and returns the
// SHA-256 of the result.
func (ck CompositeKey) hash() ([32]byte, error) {
	h := sha256.New()
	for _, c := range ck {
		b, err := c.Contribution()
		if err != nil {
			return [32]byte{}, err
		}
		h.Write(b)
	}
	var sum [32]byte
	h.Sum(sum[:0])
	return sum, nil
}

// PasswordComponent contributes SHA-256(password) to a composite key,
// the standard master-password component.
type PasswordComponent string

// Contribution implements KeyComponent.
func (p PasswordComponent) Contribution() ([]byte, error) {
	sum := sha256.Sum256([]byte(p))
	return sum[:], nil
}

// KeyFileComponent contributes the 32-byte value read from a key file
// via kdbcrypt.ReadKeyFile.
type KeyFileComponent struct {
	Reader io.Reader
}

// Contribution implements KeyComponent.
func (k KeyFileComponent) Contribution() ([]byte, error) {
	return kdbcrypt.ReadKeyFile(k.Reader)
}

// ChallengeResponseComponent contributes a precomputed challenge-
// response value, e.g. from a hardware token queried out of band with
// the file's master seed.
type ChallengeResponseComponent []byte

// Contribution implements KeyComponent.
func (c ChallengeResponseComponent) Contribution() ([]byte, error) {
	return []byte(c), nil
}

// OpenOptions controls how ReadDatabase parses a file.
type OpenOptions struct {
	// Strict, if true, turns every repair ReadDatabase would otherwise
	// perform silently (nil group or entry UUIDs, history UUIDs that
	// differ from their entry's, a missing root group, multiple Root
	// elements or root groups, malformed DeletedObjects) into a fatal
	// XmlMalformed error instead.
	Strict bool

	// KeepOnXMLError, if true, makes ReadDatabase return the partially
	// decoded Database alongside an XmlMalformed/StreamCorrupted error
	// instead of discarding it, letting a caller salvage whatever tree
	// was built before the failure.
	KeepOnXMLError bool

	// Rand supplies randomness for UUID regeneration during repairs. A
	// nil Rand uses crypto/rand.Reader.
	Rand io.Reader

	// ChallengeResponse, if set, is queried with the file's master seed
	// to produce the challenge-response term folded into the final
	// bulk cipher key alongside the transformed composite key (see
	// kdbcrypt.Key.ChallengeResponse). A nil hook contributes nothing.
	// This is independent of including a ChallengeResponseComponent in
	// the CompositeKey passed to ReadDatabase: that feeds the
	// composite-key hash that gets AES-KDF stretched, while this hook
	// feeds the outer SHA-256 alongside the master seed.
	ChallengeResponse func([]byte) ([]byte, error)
}

func (opts *OpenOptions) strict() bool {
	return opts != nil && opts.Strict
}

func (opts *OpenOptions) rand() io.Reader {
	if opts == nil {
		return nil
	}
	return opts.Rand
}

func (opts *OpenOptions) keepOnXMLError() bool {
	return opts != nil && opts.KeepOnXMLError
}

func (opts *OpenOptions) challengeResponse(masterSeed []byte) ([]byte, error) {
	if opts == nil || opts.ChallengeResponse == nil {
		return nil, nil
	}
	return opts.ChallengeResponse(masterSeed)
}

// WriteOptions controls how WriteDatabase serializes a database.
type WriteOptions struct {
	// Rand supplies the master seed, transform seed, encryption IV, and
	// stream start bytes. A nil Rand uses crypto/rand.Reader.
	Rand io.Reader

	// KDFRounds overrides db.KDFRounds if non-zero.
	KDFRounds uint64
}

func (opts *WriteOptions) rand() io.Reader {
	if opts == nil {
		return nil
	}
	return opts.Rand
}

func (opts *WriteOptions) kdfRounds(dflt uint64) uint64 {
	if opts == nil || opts.KDFRounds == 0 {
		return dflt
	}
	return opts.KDFRounds
}
