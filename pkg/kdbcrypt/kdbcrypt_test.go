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

package kdbcrypt

import (
	"bytes"
	"crypto/sha256"
	"io/ioutil"
	"testing"
)

func testParams(c Cipher) *Params {
	p := &Params{
		Key: Key{
			Composite:  sha256.Sum256([]byte("swordfish")),
			MasterSeed: sha256.Sum256([]byte("master seed")),
			KDF: KDFParams{
				Seed:   sha256.Sum256([]byte("transform seed")),
				Rounds: 100,
			},
		},
		Cipher: c,
		IV:     make([]byte, c.BlockSize()),
	}
	return p
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, c := range []Cipher{AESCipher, TwofishCipher} {
		plain := []byte("the quick brown fox jumps over the lazy dog, several times over")
		var buf bytes.Buffer
		enc, err := NewEncrypter(&buf, testParams(c))
		if err != nil {
			t.Errorf("NewEncrypter(%v) error: %v", c, err)
			continue
		}
		if _, err := enc.Write(plain); err != nil {
			t.Errorf("%v: Write error: %v", c, err)
			continue
		}
		if err := enc.Close(); err != nil {
			t.Errorf("%v: Close error: %v", c, err)
			continue
		}

		dec, err := NewDecrypter(&buf, testParams(c))
		if err != nil {
			t.Errorf("NewDecrypter(%v) error: %v", c, err)
			continue
		}
		got, err := ioutil.ReadAll(dec)
		if err != nil {
			t.Errorf("%v: ReadAll error: %v", c, err)
			continue
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("%v: round trip = %q; want %q", c, got, plain)
		}
	}
}

func TestFinalDeterministic(t *testing.T) {
	p := testParams(AESCipher)
	k1, err := p.Key.Final()
	if err != nil {
		t.Fatal("Final error:", err)
	}
	k2, err := p.Key.Final()
	if err != nil {
		t.Fatal("Final error:", err)
	}
	if k1 != k2 {
		t.Errorf("Final() is not deterministic: %x != %x", k1, k2)
	}
}

func TestFinalChallengeResponseChangesKey(t *testing.T) {
	p1 := testParams(AESCipher)
	p2 := testParams(AESCipher)
	p2.Key.ChallengeResponse = []byte("hardware token reply")

	k1, err := p1.Key.Final()
	if err != nil {
		t.Fatal("Final error:", err)
	}
	k2, err := p2.Key.Final()
	if err != nil {
		t.Fatal("Final error:", err)
	}
	if k1 == k2 {
		t.Error("Final() ignored ChallengeResponse")
	}
}

func TestCipherByUUID(t *testing.T) {
	for _, c := range []Cipher{AESCipher, TwofishCipher} {
		got, ok := CipherByUUID(c.UUID())
		if !ok {
			t.Errorf("CipherByUUID(%v.UUID()) ok = false; want true", c)
		}
		if got != c {
			t.Errorf("CipherByUUID(%v.UUID()) = %v; want %v", c, got, c)
		}
	}

	if _, ok := CipherByUUID([16]byte{1, 2, 3}); ok {
		t.Error("CipherByUUID(garbage) ok = true; want false")
	}
}

func TestReadKeyFile(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	got, err := ReadKeyFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatal("ReadKeyFile error:", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("ReadKeyFile(32 raw bytes) = %x; want %x", got, raw)
	}

	content := []byte("arbitrary key file contents of any length")
	want := sha256.Sum256(content)
	got, err = ReadKeyFile(bytes.NewReader(content))
	if err != nil {
		t.Fatal("ReadKeyFile error:", err)
	}
	if !bytes.Equal(got, want[:]) {
		t.Errorf("ReadKeyFile(content) = %x; want sha256 %x", got, want)
	}
}
