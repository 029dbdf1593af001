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
	"testing"

	"kdbxreader/pkg/kdbcrypt"
)

func newTestHeader() *header {
	h := &header{
		version:            minVersion,
		cipher:              kdbcrypt.AESCipher,
		compression:         compressionGzip,
		transformRounds:     6000,
		encryptionIV:        bytes.Repeat([]byte{0x11}, 16),
		protectedStreamKey:  bytes.Repeat([]byte{0x22}, 32),
		streamStartBytes:    bytes.Repeat([]byte{0x33}, 32),
		innerRandomStream:   2,
	}
	for i := range h.masterSeed {
		h.masterSeed[i] = byte(i)
	}
	for i := range h.transformSeed {
		h.transformSeed[i] = byte(i + 1)
	}
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newTestHeader()
	var buf bytes.Buffer
	if _, err := writeHeader(&buf, h); err != nil {
		t.Fatal("writeHeader:", err)
	}

	got, raw, err := readHeader(&buf)
	if err != nil {
		t.Fatal("readHeader:", err)
	}
	if got.cipher != h.cipher {
		t.Errorf("cipher = %v; want %v", got.cipher, h.cipher)
	}
	if got.compression != h.compression {
		t.Errorf("compression = %v; want %v", got.compression, h.compression)
	}
	if got.masterSeed != h.masterSeed {
		t.Error("masterSeed mismatch")
	}
	if got.transformSeed != h.transformSeed {
		t.Error("transformSeed mismatch")
	}
	if got.transformRounds != h.transformRounds {
		t.Errorf("transformRounds = %d; want %d", got.transformRounds, h.transformRounds)
	}
	if !bytes.Equal(got.encryptionIV, h.encryptionIV) {
		t.Error("encryptionIV mismatch")
	}
	if !bytes.Equal(got.protectedStreamKey, h.protectedStreamKey) {
		t.Error("protectedStreamKey mismatch")
	}
	if !bytes.Equal(got.streamStartBytes, h.streamStartBytes) {
		t.Error("streamStartBytes mismatch")
	}
	if got.innerRandomStream != h.innerRandomStream {
		t.Errorf("innerRandomStream = %d; want %d", got.innerRandomStream, h.innerRandomStream)
	}
	if len(raw) == 0 {
		t.Error("readHeader returned empty raw bytes")
	}
}

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	buf := bytes.NewReader([]byte("definitely not a kdbx file......."))
	_, _, err := readHeader(buf)
	if kind, ok := KindOf(err); !ok || kind != NotDatabase {
		t.Errorf("KindOf(err) = %v, %v; want NotDatabase, true", kind, ok)
	}
}

func TestReadHeaderRejectsLegacySignature(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(le32(sig1))
	buf.Write(le32(sig2KDB1))
	buf.Write(le32(minVersion))
	_, _, err := readHeader(&buf)
	if kind, ok := KindOf(err); !ok || kind != NotDatabase {
		t.Errorf("KindOf(err) = %v, %v; want NotDatabase, true", kind, ok)
	}
}

func TestReadHeaderRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(le32(sig1))
	buf.Write(le32(sig2KDBX))
	buf.Write(le32(0x00040000))
	_, _, err := readHeader(&buf)
	if kind, ok := KindOf(err); !ok || kind != UnsupportedVersion {
		t.Errorf("KindOf(err) = %v, %v; want UnsupportedVersion, true", kind, ok)
	}
}

func TestReadHeaderRejectsMissingField(t *testing.T) {
	h := newTestHeader()
	var buf bytes.Buffer
	// Write signature/version manually, then every field except the
	// cipher id, to exercise checkComplete's missing-field path.
	buf.Write(le32(sig1))
	buf.Write(le32(sig2KDBX))
	buf.Write(le32(h.version))
	var fields bytes.Buffer
	writeField(&fields, fieldCompressionFlags, le32(h.compression))
	writeField(&fields, fieldMasterSeed, h.masterSeed[:])
	writeField(&fields, fieldTransformSeed, h.transformSeed[:])
	writeField(&fields, fieldTransformRounds, le64(h.transformRounds))
	writeField(&fields, fieldEncryptionIV, h.encryptionIV)
	writeField(&fields, fieldProtectedStreamKey, h.protectedStreamKey)
	writeField(&fields, fieldStreamStartBytes, h.streamStartBytes)
	writeField(&fields, fieldInnerRandomStreamID, le32(h.innerRandomStream))
	writeField(&fields, fieldEndOfHeader, []byte{'\r', '\n'})
	buf.Write(fields.Bytes())

	_, _, err := readHeader(&buf)
	if kind, ok := KindOf(err); !ok || kind != MalformedHeader {
		t.Errorf("KindOf(err) = %v, %v; want MalformedHeader, true", kind, ok)
	}
}

func TestHeaderHashDetectsTampering(t *testing.T) {
	h := newTestHeader()
	var buf bytes.Buffer
	if _, err := writeHeader(&buf, h); err != nil {
		t.Fatal("writeHeader:", err)
	}
	raw := append([]byte(nil), buf.Bytes()...)

	sum1 := headerHash(raw)
	raw[10] ^= 0xff
	sum2 := headerHash(raw)
	if sum1 == sum2 {
		t.Error("headerHash did not change after tampering with raw header bytes")
	}
}
