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

// Package hashedblock implements the KDBX v3 hashed-block stream: a
// framing layer over plaintext that splits it into indexed, SHA-256
// hash-covered blocks, terminated by a zero-size, zero-hash sentinel
// block. It gives the reader a cheap way to detect tampering or
// truncation one block at a time without a MAC over the whole stream.
package hashedblock

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

// DefaultBlockSize is the block size new writers use.
const DefaultBlockSize = 1024 * 1024

// Errors
var (
	ErrBlockIndex = errors.New("hashedblock: block index out of order")
	ErrBlockHash  = errors.New("hashedblock: block hash mismatch")
	ErrShortBlock = errors.New("hashedblock: short block read")
)

var zeroHash [32]byte

// reader implements io.Reader over a sequence of hashed blocks.
type reader struct {
	r       io.Reader
	index   uint32
	buf     bytes.Buffer
	err     error
	started bool
}

// NewReader returns a reader that validates and strips the hashed-block
// framing from r, yielding the plain byte stream it carries.
func NewReader(r io.Reader) io.Reader {
	return &reader{r: r}
}

func (hr *reader) Read(p []byte) (int, error) {
	for hr.buf.Len() == 0 {
		if hr.err != nil {
			return 0, hr.err
		}
		if !hr.readBlock() {
			return 0, hr.err
		}
	}
	return hr.buf.Read(p)
}

// readBlock reads and verifies the next block, appending its payload to
// buf. It reports false (with err set, possibly to io.EOF) when there is
// no more data.
func (hr *reader) readBlock() bool {
	var head [4]byte
	if _, err := io.ReadFull(hr.r, head[:]); err != nil {
		if err == io.EOF {
			hr.err = io.ErrUnexpectedEOF
		} else {
			hr.err = err
		}
		return false
	}
	index := binary.LittleEndian.Uint32(head[:])
	if index != hr.index {
		hr.err = ErrBlockIndex
		return false
	}

	var hash [32]byte
	if _, err := io.ReadFull(hr.r, hash[:]); err != nil {
		hr.err = ErrShortBlock
		return false
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(hr.r, sizeBuf[:]); err != nil {
		hr.err = ErrShortBlock
		return false
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	if size == 0 {
		if hash != zeroHash {
			hr.err = ErrBlockHash
			return false
		}
		hr.err = io.EOF
		return false
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(hr.r, data); err != nil {
		hr.err = ErrShortBlock
		return false
	}
	sum := sha256.Sum256(data)
	if sum != hash {
		hr.err = ErrBlockHash
		return false
	}

	hr.index++
	hr.buf.Write(data)
	return true
}

// writer implements io.WriteCloser, framing its input into hashed blocks
// of BlockSize bytes. Closing writes the terminating sentinel block but
// does not close the underlying writer.
type writer struct {
	w         io.Writer
	blockSize int
	index     uint32
	buf       []byte
	err       error
}

// NewWriter returns a writer that frames its input into hashed blocks
// written to w, using the default block size.
func NewWriter(w io.Writer) io.WriteCloser {
	return NewWriterSize(w, DefaultBlockSize)
}

// NewWriterSize is like NewWriter but lets the caller choose the block
// size.
func NewWriterSize(w io.Writer, blockSize int) io.WriteCloser {
	return &writer{w: w, blockSize: blockSize}
}

func (hw *writer) Write(p []byte) (int, error) {
	if hw.err != nil {
		return 0, hw.err
	}
	n := len(p)
	hw.buf = append(hw.buf, p...)
	for len(hw.buf) >= hw.blockSize {
		if err := hw.flushBlock(hw.buf[:hw.blockSize]); err != nil {
			hw.err = err
			return 0, err
		}
		hw.buf = hw.buf[hw.blockSize:]
	}
	return n, nil
}

func (hw *writer) flushBlock(data []byte) error {
	sum := sha256.Sum256(data)
	if err := hw.writeHeader(hw.index, sum, uint32(len(data))); err != nil {
		return err
	}
	if _, err := hw.w.Write(data); err != nil {
		return err
	}
	hw.index++
	return nil
}

func (hw *writer) writeHeader(index uint32, hash [32]byte, size uint32) error {
	var head [40]byte
	binary.LittleEndian.PutUint32(head[:4], index)
	copy(head[4:36], hash[:])
	binary.LittleEndian.PutUint32(head[36:], size)
	_, err := hw.w.Write(head[:])
	return err
}

func (hw *writer) Close() error {
	if hw.err != nil {
		return hw.err
	}
	if len(hw.buf) > 0 {
		if err := hw.flushBlock(hw.buf); err != nil {
			hw.err = err
			return err
		}
		hw.buf = nil
	}
	if err := hw.writeHeader(hw.index, zeroHash, 0); err != nil {
		hw.err = err
		return err
	}
	return nil
}
