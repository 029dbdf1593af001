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
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"kdbxreader/pkg/kdbcrypt"
	"kdbxreader/pkg/uuids"
)

// Signatures identifying the file format. sig2KDBX is the KDBX 2/3
// signature; sig2KDB1 is the legacy KeePass 1 signature, which is
// recognized only to produce a more useful error.
const (
	sig1     = 0x9aa2d903
	sig2KDBX = 0xb54bfb67
	sig2KDB1 = 0xb54bfb65
)

// Version bounds this reader accepts. The critical mask covers the
// upper 16 bits; a file whose masked version falls outside
// [minVersion, maxVersion] is rejected as unsupported rather than
// risking a misparse.
const (
	versionCriticalMask = 0xffff0000
	minVersion           = 0x00030000
	maxVersion           = 0x00030001
)

// Header field identifiers, as carried by the TLV id byte.
const (
	fieldEndOfHeader          = 0
	fieldComment              = 1
	fieldCipherID             = 2
	fieldCompressionFlags     = 3
	fieldMasterSeed           = 4
	fieldTransformSeed        = 5
	fieldTransformRounds      = 6
	fieldEncryptionIV         = 7
	fieldProtectedStreamKey   = 8
	fieldStreamStartBytes     = 9
	fieldInnerRandomStreamID  = 10
)

// compression flags, as carried by the CompressionFlags field.
const (
	compressionNone = 0
	compressionGzip = 1
)

// header holds every value decoded from the unencrypted KDBX header,
// ready to drive key derivation and stream construction.
type header struct {
	version uint32

	cipher            kdbcrypt.Cipher
	compression       uint32
	masterSeed        [32]byte
	transformSeed     [32]byte
	transformRounds   uint64
	encryptionIV      []byte
	protectedStreamKey []byte
	streamStartBytes  []byte
	innerRandomStream uint32

	sawCipher, sawCompression, sawMasterSeed             bool
	sawTransformSeed, sawTransformRounds, sawIV           bool
	sawProtectedStreamKey, sawStreamStartBytes, sawStream bool
}

// readHeader reads the magic signature, version, and TLV field stream
// from r, returning the decoded header plus the raw header bytes (for
// later HeaderHash verification).
func readHeader(r io.Reader) (*header, []byte, error) {
	var raw bytes.Buffer
	tee := io.TeeReader(r, &raw)

	var sigBuf [12]byte
	if _, err := io.ReadFull(tee, sigBuf[:]); err != nil {
		return nil, nil, wrapError(NotDatabase, "read signature", err)
	}
	s1 := binary.LittleEndian.Uint32(sigBuf[0:4])
	s2 := binary.LittleEndian.Uint32(sigBuf[4:8])
	version := binary.LittleEndian.Uint32(sigBuf[8:12])

	if s1 != sig1 {
		return nil, nil, errNotKeePassFile
	}
	switch s2 {
	case sig2KDBX:
		// fall through
	case sig2KDB1:
		return nil, nil, errKeePass1File
	default:
		return nil, nil, errNotKeePassFile
	}
	if version&versionCriticalMask < minVersion || version&versionCriticalMask > maxVersion {
		return nil, nil, newError(UnsupportedVersion, "unsupported KDBX version")
	}

	h := &header{version: version}
	for {
		done, err := h.readField(tee)
		if err != nil {
			return nil, nil, err
		}
		if done {
			break
		}
	}
	if err := h.checkComplete(); err != nil {
		return nil, nil, err
	}
	return h, raw.Bytes(), nil
}

// readField reads one TLV field and applies it to h. It reports done =
// true once it has consumed the EndOfHeader sentinel.
func (h *header) readField(r io.Reader) (done bool, err error) {
	var idBuf [1]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return false, wrapError(MalformedHeader, "read field id", err)
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return false, wrapError(MalformedHeader, "read field length", err)
	}
	size := binary.LittleEndian.Uint16(lenBuf[:])
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return false, wrapError(MalformedHeader, "read field data", err)
	}

	switch idBuf[0] {
	case fieldEndOfHeader:
		return true, nil
	case fieldComment:
		// Ignored.
	case fieldCipherID:
		if len(data) != 16 {
			return false, newError(MalformedHeader, "cipher id: wrong size")
		}
		var u uuids.UUID
		copy(u[:], data)
		c, ok := kdbcrypt.CipherByUUID(u)
		if !ok {
			return false, newError(MalformedHeader, "unknown cipher id")
		}
		h.cipher = c
		h.sawCipher = true
	case fieldCompressionFlags:
		if len(data) != 4 {
			return false, newError(MalformedHeader, "compression flags: wrong size")
		}
		h.compression = binary.LittleEndian.Uint32(data)
		if h.compression != compressionNone && h.compression != compressionGzip {
			return false, newError(MalformedHeader, "unknown compression flags")
		}
		h.sawCompression = true
	case fieldMasterSeed:
		if len(data) != 32 {
			return false, newError(MalformedHeader, "master seed: wrong size")
		}
		copy(h.masterSeed[:], data)
		h.sawMasterSeed = true
	case fieldTransformSeed:
		if len(data) != 32 {
			return false, newError(MalformedHeader, "transform seed: wrong size")
		}
		copy(h.transformSeed[:], data)
		h.sawTransformSeed = true
	case fieldTransformRounds:
		if len(data) != 8 {
			return false, newError(MalformedHeader, "transform rounds: wrong size")
		}
		h.transformRounds = binary.LittleEndian.Uint64(data)
		h.sawTransformRounds = true
	case fieldEncryptionIV:
		h.encryptionIV = data
		h.sawIV = true
	case fieldProtectedStreamKey:
		h.protectedStreamKey = data
		h.sawProtectedStreamKey = true
	case fieldStreamStartBytes:
		h.streamStartBytes = data
		h.sawStreamStartBytes = true
	case fieldInnerRandomStreamID:
		if len(data) != 4 {
			return false, newError(MalformedHeader, "inner random stream id: wrong size")
		}
		h.innerRandomStream = binary.LittleEndian.Uint32(data)
		h.sawStream = true
	default:
		// Unknown field id: log and ignore, matching readers that tolerate
		// forward-compatible additions outside the critical field set.
		Logger.Printf("ignoring unknown header field id %d", idBuf[0])
	}
	return false, nil
}

// checkComplete verifies the fields a decrypt cannot proceed without were
// present: master seed, encryption IV, stream start bytes, protected
// stream key, and a resolved cipher. Every other field (compression
// flags, transform seed/rounds, inner random stream id) is free to be
// absent and simply keeps its zero value; a file missing one of those
// is still well-formed here and will fail later, if it fails at all,
// at key derivation or the stream-start check.
func (h *header) checkComplete() error {
	switch {
	case !h.sawCipher:
		return newError(MalformedHeader, "missing cipher id")
	case !h.sawMasterSeed:
		return newError(MalformedHeader, "missing master seed")
	case !h.sawIV:
		return newError(MalformedHeader, "missing encryption IV")
	case !h.sawProtectedStreamKey:
		return newError(MalformedHeader, "missing protected stream key")
	case !h.sawStreamStartBytes:
		return newError(MalformedHeader, "missing stream start bytes")
	}
	return nil
}

// writeHeader writes h's fields as a KDBX v3 header, returning the raw
// bytes written (so the caller can fold them into a HeaderHash).
func writeHeader(w io.Writer, h *header) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, uint32(sig1)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(sig2KDBX)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, h.version); err != nil {
		return nil, err
	}

	cipherUUID := h.cipher.UUID()
	writeField(&buf, fieldCipherID, cipherUUID[:])
	writeField(&buf, fieldCompressionFlags, le32(h.compression))
	writeField(&buf, fieldMasterSeed, h.masterSeed[:])
	writeField(&buf, fieldTransformSeed, h.transformSeed[:])
	writeField(&buf, fieldTransformRounds, le64(h.transformRounds))
	writeField(&buf, fieldEncryptionIV, h.encryptionIV)
	writeField(&buf, fieldProtectedStreamKey, h.protectedStreamKey)
	writeField(&buf, fieldStreamStartBytes, h.streamStartBytes)
	writeField(&buf, fieldInnerRandomStreamID, le32(h.innerRandomStream))
	writeField(&buf, fieldEndOfHeader, []byte{'\r', '\n'})

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, id byte, data []byte) {
	buf.WriteByte(id)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// headerHash computes the SHA-256 of raw header bytes, the value a
// strict-mode v3.1 document must bind in its XML HeaderHash element.
func headerHash(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}
