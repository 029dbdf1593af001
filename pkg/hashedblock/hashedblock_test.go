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

package hashedblock

import (
	"bytes"
	"io/ioutil"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := [][]byte{
		{},
		[]byte("short"),
		bytes.Repeat([]byte("0123456789abcdef"), 100),
	}
	for _, want := range tests {
		var buf bytes.Buffer
		w := NewWriterSize(&buf, 16)
		if _, err := w.Write(want); err != nil {
			t.Errorf("Write(%d bytes) error: %v", len(want), err)
			continue
		}
		if err := w.Close(); err != nil {
			t.Errorf("Close error: %v", err)
			continue
		}

		got, err := ioutil.ReadAll(NewReader(&buf))
		if err != nil {
			t.Errorf("ReadAll error: %v", err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("round trip of %d bytes: got %d bytes back, mismatched", len(want), len(got))
		}
	}
}

func TestCorruptedPayloadFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterSize(&buf, 16)
	w.Write(bytes.Repeat([]byte{0x42}, 40))
	w.Close()

	b := buf.Bytes()
	// Flip a byte inside the first block's payload (after the 40-byte header).
	b[40] ^= 0xff

	_, err := ioutil.ReadAll(NewReader(bytes.NewReader(b)))
	if err != ErrBlockHash {
		t.Errorf("ReadAll after payload corruption = %v; want %v", err, ErrBlockHash)
	}
}

func TestOutOfOrderIndexFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterSize(&buf, 16)
	w.Write(bytes.Repeat([]byte{0x01}, 40))
	w.Close()

	b := buf.Bytes()
	b[0] = 5 // corrupt the first block's index

	_, err := ioutil.ReadAll(NewReader(bytes.NewReader(b)))
	if err != ErrBlockIndex {
		t.Errorf("ReadAll after index corruption = %v; want %v", err, ErrBlockIndex)
	}
}

func TestTruncatedStreamFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterSize(&buf, 16)
	w.Write(bytes.Repeat([]byte{0x01}, 40))
	w.Close()

	truncated := buf.Bytes()[:30]
	_, err := ioutil.ReadAll(NewReader(bytes.NewReader(truncated)))
	if err == nil {
		t.Error("ReadAll on truncated stream: want error, got nil")
	}
}

func TestEmptyStreamIsEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Close(); err != nil {
		t.Fatal("Close error:", err)
	}
	got, err := ioutil.ReadAll(NewReader(&buf))
	if err != nil {
		t.Fatal("ReadAll error:", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadAll on empty stream = %d bytes; want 0", len(got))
	}
}
