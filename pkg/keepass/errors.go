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

import "fmt"

// ErrorKind classifies a Error into the closed taxonomy a caller needs to
// react to: whether to suggest a KeePass 1 import, prompt for a different
// password, or simply report corruption.
type ErrorKind int

// The closed set of error kinds a read or write of a database can fail
// with. Kinds are ordered roughly by where in the pipeline they surface.
const (
	// NotDatabase means the magic signature didn't match a KDBX file at
	// all, or matched the legacy KeePass 1 signature.
	NotDatabase ErrorKind = iota
	UnsupportedVersion
	MalformedHeader
	KeyDerivationFailed
	// AuthenticationFailed means the stream-start-bytes check failed:
	// either the key is wrong or the ciphertext is corrupt. These two
	// causes are deliberately indistinguishable to callers.
	AuthenticationFailed
	StreamCorrupted
	XmlMalformed
	HeaderHashMismatch
	IoError
)

func (k ErrorKind) String() string {
	switch k {
	case NotDatabase:
		return "not a database"
	case UnsupportedVersion:
		return "unsupported version"
	case MalformedHeader:
		return "malformed header"
	case KeyDerivationFailed:
		return "key derivation failed"
	case AuthenticationFailed:
		return "authentication failed"
	case StreamCorrupted:
		return "stream corrupted"
	case XmlMalformed:
		return "malformed XML"
	case HeaderHashMismatch:
		return "header hash mismatch"
	case IoError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Error is the error type every ReadDatabase/WriteDatabase failure is
// reported as. Its Kind groups failures the way callers of a
// password manager need to: wrong password vs. corrupt file vs. old
// format, without leaking which lower layer actually detected the
// problem (see AuthenticationFailed).
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keepass: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("keepass: %s", e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapError(kind ErrorKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the ErrorKind of err, or false if err did not originate
// from this package.
func KindOf(err error) (ErrorKind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}

// Sentinel errors for the old-format and generic not-a-database cases.
// Both carry Kind NotDatabase and no wrapped Err; callers distinguish
// the two by Msg.
var (
	errNotKeePassFile = newError(NotDatabase, "not a KeePass database")
	errKeePass1File   = newError(NotDatabase, "file is a KeePass 1 (.kdb) database; use the importer, not this reader")
)
