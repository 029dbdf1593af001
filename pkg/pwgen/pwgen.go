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

// Package pwgen generates random passwords and passphrases for new or
// updated KDBX entries.
package pwgen

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"
)

const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerLetters = "abcdefghijklmnopqrstuvwxyz"
	digits       = "0123456789"
	symbols      = "!@#$%^&*()-_=+[]{}"
)

// Charset controls which character classes Password draws from.
type Charset struct {
	Upper, Lower, Digits, Symbols bool
}

// DefaultCharset is upper+lower+digits, excluding symbols, for
// compatibility with sites that reject punctuation in passwords.
var DefaultCharset = Charset{Upper: true, Lower: true, Digits: true}

func (c Charset) bytes() []byte {
	set := make([]byte, 0, len(upperLetters)+len(lowerLetters)+len(digits)+len(symbols))
	if c.Upper {
		set = append(set, upperLetters...)
	}
	if c.Lower {
		set = append(set, lowerLetters...)
	}
	if c.Digits {
		set = append(set, digits...)
	}
	if c.Symbols {
		set = append(set, symbols...)
	}
	if len(set) == 0 {
		set = append(set, DefaultCharset.bytes()...)
	}
	return set
}

// Password generates an n-character password drawn from set's
// character classes using crypto/rand.
func Password(n int, set Charset) (string, error) {
	chars := set.bytes()
	pw := make([]byte, n)
	for i := range pw {
		j, err := randInt(rand.Reader, len(chars))
		if err != nil {
			return "", err
		}
		pw[i] = chars[j]
	}
	return string(pw), nil
}

// WordList is a dictionary of words (and their possessive forms) used
// by Passphrase.
type WordList struct {
	once        sync.Once
	path        string
	words       []string
	possessives []string
	err         error
}

// NewWordList returns a WordList that lazily loads words from path (one
// per line) on first use. A trailing "'s" marks a possessive form.
func NewWordList(path string) *WordList {
	return &WordList{path: path}
}

func (wl *WordList) load() error {
	wl.once.Do(func() {
		f, err := os.Open(wl.path)
		if err != nil {
			wl.err = err
			return
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		wl.words = make([]string, 0, 1024)
		for s.Scan() {
			w := s.Text()
			if strings.HasSuffix(w, "'s") {
				wl.possessives = append(wl.possessives, w)
			} else {
				wl.words = append(wl.words, w)
			}
		}
		wl.err = s.Err()
	})
	return wl.err
}

// Passphrase generates a numWords-word passphrase from wl, optionally
// including possessive forms as candidate words.
func (wl *WordList) Passphrase(numWords int, includePossessives bool) (string, error) {
	if err := wl.load(); err != nil {
		return "", err
	}
	max := len(wl.words)
	if includePossessives {
		max += len(wl.possessives)
	}
	if max == 0 {
		return "", io.ErrUnexpectedEOF
	}
	var buf bytes.Buffer
	for i := 0; i < numWords; i++ {
		w, err := randInt(rand.Reader, max)
		if err != nil {
			return "", err
		}
		if i > 0 {
			buf.WriteByte(' ')
		}
		if w < len(wl.words) {
			buf.WriteString(wl.words[w])
		} else {
			buf.WriteString(wl.possessives[w-len(wl.words)])
		}
	}
	return buf.String(), nil
}

func randInt(r io.Reader, n int) (int, error) {
	max := big.NewInt(int64(n))
	i, err := rand.Int(r, max)
	if err != nil {
		return 0, err
	}
	return int(i.Int64()), nil
}
