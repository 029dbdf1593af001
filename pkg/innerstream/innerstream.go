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

// Package innerstream generates the keystream used to obscure "protected"
// attribute values inside a KDBX XML document. Only Salsa20 is exercised
// by KDBX v3; ChaCha20 is reserved for KDBX v4 and ArcFourVariant is
// rejected outright, matching the header's InnerRandomStreamID field.
package innerstream

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/salsa20/salsa"
)

// Algorithm identifies an inner random stream cipher, as carried by the
// header's InnerRandomStreamID field.
type Algorithm uint32

// Algorithm ids, matching the header field's wire encoding.
const (
	ArcFourVariant Algorithm = 1
	Salsa20        Algorithm = 2
	ChaCha20       Algorithm = 3 // reserved for KDBX v4; not exercised here
)

// ErrUnsupportedAlgorithm is returned by New for any algorithm this reader
// does not implement, including the explicitly-rejected ArcFourVariant.
var ErrUnsupportedAlgorithm = errors.New("innerstream: unsupported algorithm")

// salsaNonce is the fixed 8-byte nonce KDBX uses for its Salsa20 inner
// stream. This is a wire format constant, not a secret: do not regenerate.
var salsaNonce = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// Stream produces an infinite keystream used to XOR-obscure protected
// attribute values, consumed lazily and in document order by the XML
// decoder. There is exactly one consumer per Stream.
type Stream struct {
	key   [32]byte
	block [64]byte
	pos   int
	ctr   uint64
}

// New creates a Stream for the given algorithm, seeded from
// SHA-256(protectedStreamKey). It returns ErrUnsupportedAlgorithm for any
// algorithm other than Salsa20.
func New(alg Algorithm, protectedStreamKey []byte) (*Stream, error) {
	if alg != Salsa20 {
		return nil, ErrUnsupportedAlgorithm
	}
	s := &Stream{key: sha256.Sum256(protectedStreamKey)}
	s.fill()
	return s, nil
}

func (s *Stream) fill() {
	var counter [16]byte
	copy(counter[:8], salsaNonce[:])
	counter[8] = byte(s.ctr)
	counter[9] = byte(s.ctr >> 8)
	counter[10] = byte(s.ctr >> 16)
	counter[11] = byte(s.ctr >> 24)
	counter[12] = byte(s.ctr >> 32)
	counter[13] = byte(s.ctr >> 40)
	counter[14] = byte(s.ctr >> 48)
	counter[15] = byte(s.ctr >> 56)

	var zero [64]byte
	salsa.XORKeyStream(s.block[:], zero[:], &counter, &s.key)
	s.pos = 0
	s.ctr++
}

// Next returns the next n bytes of keystream.
func (s *Stream) Next(n int) []byte {
	out := make([]byte, n)
	s.fillInto(out)
	return out
}

// XOR decrypts (or encrypts — the operation is symmetric) src into dst
// using the next len(src) bytes of keystream. dst and src may overlap
// exactly.
func (s *Stream) XOR(dst, src []byte) {
	ks := s.Next(len(src))
	for i := range src {
		dst[i] = src[i] ^ ks[i]
	}
}

func (s *Stream) fillInto(out []byte) {
	n := 0
	for n < len(out) {
		if s.pos >= len(s.block) {
			s.fill()
		}
		c := copy(out[n:], s.block[s.pos:])
		s.pos += c
		n += c
	}
}
