// Copyright 2016 Ross Light
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

// Package kdbcrypt encrypts and decrypts data using the KDBX v3 encryption
// scheme: AES-KDF key stretching followed by CBC bulk encryption under
// either AES-256 or Twofish.
package kdbcrypt // import "kdbxreader/pkg/kdbcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/ioutil"
	"sync"

	"golang.org/x/crypto/twofish"
	"kdbxreader/pkg/cipherio"
	"kdbxreader/pkg/padding"
	"kdbxreader/pkg/uuids"
)

// Errors
var (
	ErrUnknownCipher = errors.New("kdbcrypt: unknown cipher")
	ErrSize          = errors.New("kdbcrypt: data size not a multiple of block size")
)

// Cipher is a bulk cipher algorithm identified by the header's CipherID
// field.
type Cipher int

// Available ciphers. These are the only two cipher identities a KDBX v3
// file can carry; the header parser rejects any other UUID.
const (
	AESCipher Cipher = iota
	TwofishCipher
)

var (
	aesCipherUUID     = uuids.UUID{0x31, 0xc1, 0xf2, 0xe6, 0xbf, 0x71, 0x43, 0x50, 0xbe, 0x58, 0x05, 0x21, 0x6a, 0xfc, 0x5a, 0xff}
	twofishCipherUUID = uuids.UUID{0xad, 0x68, 0xf2, 0x9f, 0x57, 0x6f, 0x4b, 0xb9, 0xa3, 0x6a, 0xd4, 0x7a, 0xf9, 0x65, 0x34, 0x6c}
)

// CipherByUUID resolves a header cipher UUID to a Cipher. ok is false for
// any UUID not in the closed set this reader understands.
func CipherByUUID(u uuids.UUID) (c Cipher, ok bool) {
	switch u {
	case aesCipherUUID:
		return AESCipher, true
	case twofishCipherUUID:
		return TwofishCipher, true
	default:
		return 0, false
	}
}

// UUID returns the header field value identifying c.
func (c Cipher) UUID() uuids.UUID {
	switch c {
	case TwofishCipher:
		return twofishCipherUUID
	default:
		return aesCipherUUID
	}
}

func (c Cipher) blockCipher(key []byte) (cipher.Block, error) {
	switch c {
	case AESCipher:
		return aes.NewCipher(key)
	case TwofishCipher:
		return twofish.NewCipher(key)
	default:
		return nil, ErrUnknownCipher
	}
}

func (c Cipher) String() string {
	switch c {
	case AESCipher:
		return "AES-256"
	case TwofishCipher:
		return "Twofish"
	default:
		return "unknown cipher"
	}
}

// BlockSize returns the cipher's block size in bytes, which also sizes the
// encryption IV the header stores.
func (c Cipher) BlockSize() int {
	switch c {
	case TwofishCipher:
		return 16
	default:
		return aes.BlockSize
	}
}

// KDFParams holds the AES-KDF parameters stored in the header: a 32-byte
// seed used as the AES key in ECB mode (a 32-byte key, so AES-256) and
// the number of rounds applied to each half of the composite key.
type KDFParams struct {
	Seed   [32]byte
	Rounds uint64
}

// Key is the full set of material that goes into the final bulk cipher
// key: the composite key hash, the per-file master seed, the AES-KDF
// parameters, and an optional challenge-response contribution.
type Key struct {
	// Composite is SHA-256(concat(component contributions)), the hash of
	// the user's password/key-file/challenge-response components.
	Composite [32]byte

	MasterSeed [32]byte
	KDF        KDFParams

	// ChallengeResponse is the optional output of a hardware or software
	// responder queried with MasterSeed. Empty if none is configured.
	ChallengeResponse []byte
}

// transform runs the AES-KDF: the composite key is split into two 16-byte
// halves, each encrypted KDF.Rounds times with AES (ECB, one 16-byte
// block) using the 32-byte KDF.Seed as the key, then the concatenated result is hashed with SHA-256 to produce
// the transformed master key.
func (k *Key) transform() ([32]byte, error) {
	var tk [32]byte
	var wg sync.WaitGroup
	var err0, err1 error
	wg.Add(2)
	go func() {
		defer wg.Done()
		err0 = transformKeyBlock(tk[:16], k.Composite[:16], k.KDF.Seed[:], k.KDF.Rounds)
	}()
	go func() {
		defer wg.Done()
		err1 = transformKeyBlock(tk[16:], k.Composite[16:], k.KDF.Seed[:], k.KDF.Rounds)
	}()
	wg.Wait()
	if err0 != nil {
		return [32]byte{}, err0
	}
	if err1 != nil {
		return [32]byte{}, err1
	}
	return sha256.Sum256(tk[:]), nil
}

// transformKeyBlock applies rounds of single-block AES (ECB) encryption,
// keyed by seed, to src and stores the result in dst.
func transformKeyBlock(dst, src, seed []byte, rounds uint64) error {
	dst = dst[:aes.BlockSize]
	copy(dst, src)
	c, err := aes.NewCipher(seed)
	if err != nil {
		return err
	}
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(dst, dst)
	}
	return nil
}

// Final computes the final bulk cipher key:
// SHA-256(MasterSeed || ChallengeResponse || transform(Composite)).
func (k *Key) Final() ([32]byte, error) {
	t, err := k.transform()
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write(k.MasterSeed[:])
	h.Write(k.ChallengeResponse)
	h.Write(t[:])
	var sum [32]byte
	h.Sum(sum[:0])
	return sum, nil
}

// Params specifies the encryption/decryption values for the bulk cipher
// stream.
type Params struct {
	Key    Key
	Cipher Cipher
	IV     []byte
}

// NewEncrypter creates a new writer that encrypts to w. Closing the new
// writer writes the final, padded block but does not close w.
func NewEncrypter(w io.Writer, params *Params) (io.WriteCloser, error) {
	key, err := params.Key.Final()
	if err != nil {
		return nil, err
	}
	ciph, err := params.Cipher.blockCipher(key[:])
	if err != nil {
		return nil, err
	}
	e := cipher.NewCBCEncrypter(ciph, params.IV)
	return cipherio.NewWriter(w, e, padding.PKCS7), nil
}

// NewDecrypter creates a new reader that decrypts and strips padding from r.
func NewDecrypter(r io.Reader, params *Params) (io.Reader, error) {
	key, err := params.Key.Final()
	if err != nil {
		return nil, err
	}
	ciph, err := params.Cipher.blockCipher(key[:])
	if err != nil {
		return nil, err
	}
	d := cipher.NewCBCDecrypter(ciph, params.IV)
	return cipherio.NewReader(r, d, padding.PKCS7), nil
}

// ReadKeyFile reads a key file and returns its 32-byte contribution: raw
// 32 bytes, 64 hex digits decoded, or failing both, the SHA-256 of the
// file's contents.
func ReadKeyFile(r io.Reader) ([]byte, error) {
	const maxSize = 64
	data, err := ioutil.ReadAll(&io.LimitedReader{R: r, N: maxSize + 1})
	if err != nil {
		return nil, err
	}
	switch len(data) {
	case 32:
		return data, nil
	case 64:
		h := make([]byte, hex.DecodedLen(len(data)))
		if _, err := hex.Decode(h, data); err == nil {
			return h, nil
		}
	}
	s := sha256.New()
	s.Write(data)
	if _, err := io.Copy(s, r); err != nil {
		return nil, err
	}
	return s.Sum(nil), nil
}
