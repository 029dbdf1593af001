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
	"compress/gzip"
	"crypto/rand"
	"crypto/subtle"
	"io"

	"kdbxreader/pkg/hashedblock"
	"kdbxreader/pkg/innerstream"
	"kdbxreader/pkg/kdbcrypt"
)

// defaultKDFRounds is applied to a freshly written database when
// neither the Database nor WriteOptions specifies a round count: a
// roughly one-second AES-KDF stretch on commodity hardware.
const defaultKDFRounds = 60000

// ReadDatabase parses a KDBX v3 file from r, decrypting it with key and
// applying opts (a nil opts uses the defaults: non-strict repairs,
// crypto/rand.Reader for UUID regeneration).
//
// The pipeline runs INIT → HEADER → KEYED → AUTHED → XML → DONE,
// failing fast into FAILED at the first error. The partially built
// Database is always discarded on a pre-XML failure; on an XML failure
// it is discarded too unless opts.KeepOnXMLError is set, in which case
// it is returned alongside the error.
func ReadDatabase(r io.Reader, key CompositeKey, opts *OpenOptions) (*Database, error) {
	h, raw, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	composite, err := key.hash()
	if err != nil {
		return nil, wrapError(KeyDerivationFailed, "hash composite key", err)
	}

	challenge, err := opts.challengeResponse(h.masterSeed[:])
	if err != nil {
		return nil, wrapError(KeyDerivationFailed, "challenge-response", err)
	}

	kkey := kdbcrypt.Key{
		Composite:  composite,
		MasterSeed: h.masterSeed,
		KDF: kdbcrypt.KDFParams{
			Seed:   h.transformSeed,
			Rounds: h.transformRounds,
		},
		ChallengeResponse: challenge,
	}
	params := &kdbcrypt.Params{Key: kkey, Cipher: h.cipher, IV: h.encryptionIV}
	plain, err := kdbcrypt.NewDecrypter(r, params)
	if err != nil {
		return nil, wrapError(KeyDerivationFailed, "derive key", err)
	}

	// AUTHED: the stream-start-bytes gate. No XML decoding proceeds
	// until this passes, and a mismatch never distinguishes a wrong key
	// from corrupt ciphertext.
	gotStart := make([]byte, len(h.streamStartBytes))
	if _, err := io.ReadFull(plain, gotStart); err != nil {
		return nil, wrapError(AuthenticationFailed, "wrong key or corrupt database", err)
	}
	if subtle.ConstantTimeCompare(gotStart, h.streamStartBytes) != 1 {
		return nil, newError(AuthenticationFailed, "wrong key or corrupt database")
	}

	blockStream := hashedblock.NewReader(plain)
	var xmlSource io.Reader = blockStream
	if h.compression == compressionGzip {
		gr, err := gzip.NewReader(blockStream)
		if err != nil {
			return nil, wrapError(StreamCorrupted, "open compressed stream", err)
		}
		defer gr.Close()
		xmlSource = gr
	}

	stream, err := innerstream.New(innerstream.Algorithm(h.innerRandomStream), h.protectedStreamKey)
	if err != nil {
		return nil, wrapError(MalformedHeader, "inner random stream", err)
	}

	db := newDatabase(opts.rand())
	if err := decodeDatabase(xmlSource, db, stream, opts); err != nil {
		if opts.keepOnXMLError() {
			return db, err
		}
		return nil, err
	}

	if len(db.Meta.HeaderHash) > 0 {
		got := headerHash(raw)
		if subtle.ConstantTimeCompare(got[:], db.Meta.HeaderHash) != 1 {
			return nil, newError(HeaderHashMismatch, "header hash mismatch")
		}
	} else if h.version >= 0x00030001 && opts.strict() {
		return nil, newError(XmlMalformed, "missing required HeaderHash")
	}

	db.Cipher = h.cipher
	db.CompressionGzip = h.compression == compressionGzip
	db.KDFRounds = h.transformRounds
	return db, nil
}

// WriteDatabase serializes db to w, encrypting it with key. A fresh
// master seed, transform seed, encryption IV, protected stream key, and
// stream start bytes are generated for every call (opts.Rand permitting
// a deterministic source for tests), so writing the same Database twice
// never produces identical ciphertext.
func WriteDatabase(w io.Writer, db *Database, key CompositeKey, opts *WriteOptions) error {
	r := opts.rand()
	if r == nil {
		r = rand.Reader
	}

	h := &header{version: minVersion | 1, cipher: db.Cipher, compression: compressionNone}
	if db.CompressionGzip {
		h.compression = compressionGzip
	}
	if err := readRandom(r, h.masterSeed[:]); err != nil {
		return wrapError(IoError, "generate master seed", err)
	}
	if err := readRandom(r, h.transformSeed[:]); err != nil {
		return wrapError(IoError, "generate transform seed", err)
	}
	h.transformRounds = opts.kdfRounds(db.KDFRounds)
	if h.transformRounds == 0 {
		h.transformRounds = defaultKDFRounds
	}
	h.encryptionIV = make([]byte, h.cipher.BlockSize())
	if err := readRandom(r, h.encryptionIV); err != nil {
		return wrapError(IoError, "generate encryption IV", err)
	}
	h.protectedStreamKey = make([]byte, 32)
	if err := readRandom(r, h.protectedStreamKey); err != nil {
		return wrapError(IoError, "generate protected stream key", err)
	}
	h.streamStartBytes = make([]byte, 32)
	if err := readRandom(r, h.streamStartBytes); err != nil {
		return wrapError(IoError, "generate stream start bytes", err)
	}
	h.innerRandomStream = uint32(innerstream.Salsa20)

	raw, err := writeHeader(w, h)
	if err != nil {
		return wrapError(IoError, "write header", err)
	}

	composite, err := key.hash()
	if err != nil {
		return wrapError(KeyDerivationFailed, "hash composite key", err)
	}
	kkey := kdbcrypt.Key{
		Composite:  composite,
		MasterSeed: h.masterSeed,
		KDF: kdbcrypt.KDFParams{
			Seed:   h.transformSeed,
			Rounds: h.transformRounds,
		},
	}
	params := &kdbcrypt.Params{Key: kkey, Cipher: h.cipher, IV: h.encryptionIV}
	enc, err := kdbcrypt.NewEncrypter(w, params)
	if err != nil {
		return wrapError(KeyDerivationFailed, "derive key", err)
	}

	if _, err := enc.Write(h.streamStartBytes); err != nil {
		return wrapError(IoError, "write stream start bytes", err)
	}

	blockWriter := hashedblock.NewWriter(enc)
	var xmlDest io.Writer = blockWriter
	var gw *gzip.Writer
	if h.compression == compressionGzip {
		gw = gzip.NewWriter(blockWriter)
		xmlDest = gw
	}

	stream, err := innerstream.New(innerstream.Salsa20, h.protectedStreamKey)
	if err != nil {
		return wrapError(MalformedHeader, "inner random stream", err)
	}

	if err := encodeDatabase(xmlDest, db, stream, raw); err != nil {
		return wrapError(IoError, "encode XML", err)
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return wrapError(IoError, "close compressed stream", err)
		}
	}
	if err := blockWriter.Close(); err != nil {
		return wrapError(IoError, "close hashed block stream", err)
	}
	if err := enc.Close(); err != nil {
		return wrapError(IoError, "close cipher stream", err)
	}
	return nil
}

func readRandom(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	return err
}

// New creates an empty database with a single root group, ready to
// have groups and entries added before a WriteDatabase call. rand is
// used to generate UUIDs; a nil rand uses crypto/rand.Reader.
func New(rand io.Reader) *Database {
	return newDatabase(rand)
}
