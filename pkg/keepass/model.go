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

// Package keepass reads and writes the KDBX v3 password database format.
package keepass // import "kdbxreader/pkg/keepass"

import (
	"errors"
	"io"
	"time"

	"kdbxreader/pkg/kdbcrypt"
	"kdbxreader/pkg/uuids"
)

// Icon is a built-in icon number, as used by the reference client.
type Icon uint32

// Inheritable is a tri-state flag a Group uses for settings its children
// can either follow or override: AutoType enablement and whether the
// group participates in searches.
type Inheritable int

// Inheritable states.
const (
	Inherit Inheritable = iota
	Enable
	Disable
)

// TimeInfo holds the temporal metadata every Group and Entry carries.
type TimeInfo struct {
	CreationTime         time.Time
	LastModificationTime time.Time
	LastAccessTime       time.Time
	ExpiryTime           time.Time
	LocationChanged      time.Time
	Expires              bool
	UsageCount            int
}

// Attribute is a single entry field: its plaintext value plus whether the
// value was stored protected (and must again be written out protected).
type Attribute struct {
	Value     string
	Protected bool
}

// AutoTypeAssociation binds an auto-type keystroke sequence to a window
// title pattern.
type AutoTypeAssociation struct {
	Window   string
	Sequence string
}

// AutoType holds an entry's auto-type configuration.
type AutoType struct {
	Enabled             bool
	ObfuscationLevel     int
	DefaultSequence      string
	Associations         []AutoTypeAssociation
}

// DeletedObject records a UUID that was removed from the database and
// when, so that synchronizing clients know to remove it too rather than
// resurrecting it.
type DeletedObject struct {
	UUID         uuids.UUID
	DeletionTime time.Time
}

// CustomIcon is a user-supplied raster image associated with a UUID,
// referenced by Group.Icon or Entry.Icon in place of a built-in Icon
// number.
type CustomIcon struct {
	UUID uuids.UUID
	Data []byte
}

// Entry stores a single login record: title, username, password, URL,
// notes (all as protectable Attributes), tags, auto-type configuration,
// attachments, and a history of prior snapshots of itself.
type Entry struct {
	UUID            uuids.UUID
	Icon            Icon
	ForegroundColor string
	BackgroundColor string
	OverrideURL     string
	Tags            string
	TimeInfo

	// Attributes holds every String field found on the entry, keyed by
	// name. The five well-known names (Title, UserName, Password, URL,
	// Notes) back the accessors below and are always written out, as
	// empty values when absent; callers may add arbitrary others.
	Attributes map[string]Attribute

	Attachments map[string][]byte
	AutoType    AutoType

	// History holds prior versions of this entry, oldest first. Each
	// history entry shares this entry's UUID and has no History of its
	// own and no parent group.
	History []*Entry

	db     *Database
	parent *Group
}

// attr returns e's value for name, or the empty string if unset.
func (e *Entry) attr(name string) string {
	if a, ok := e.Attributes[name]; ok {
		return a.Value
	}
	return ""
}

func (e *Entry) setAttr(name, value string, protected bool) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]Attribute)
	}
	e.Attributes[name] = Attribute{Value: value, Protected: protected}
}

// Title, Username, Password, URL, and Notes are convenience accessors
// over the well-known Attributes entries.
func (e *Entry) Title() string    { return e.attr("Title") }
func (e *Entry) Username() string { return e.attr("UserName") }
func (e *Entry) Password() string { return e.attr("Password") }
func (e *Entry) URL() string      { return e.attr("URL") }
func (e *Entry) Notes() string    { return e.attr("Notes") }

// SetTitle, SetUsername, SetPassword, SetURL, and SetNotes set the
// well-known Attributes entries, preserving whatever protection flag the
// attribute already had (defaulting to false for a field that didn't
// exist yet).
func (e *Entry) SetTitle(v string)    { e.setAttr("Title", v, e.Attributes["Title"].Protected) }
func (e *Entry) SetUsername(v string) { e.setAttr("UserName", v, e.Attributes["UserName"].Protected) }
func (e *Entry) SetPassword(v string) { e.setAttr("Password", v, e.Attributes["Password"].Protected) }
func (e *Entry) SetURL(v string)      { e.setAttr("URL", v, e.Attributes["URL"].Protected) }
func (e *Entry) SetNotes(v string)    { e.setAttr("Notes", v, e.Attributes["Notes"].Protected) }

// Parent returns the group e currently belongs to, or nil for a history
// entry (which has none).
func (e *Entry) Parent() *Group {
	return e.parent
}

// SetParent moves e to be a child of g. g must belong to the same
// Database as e.
func (e *Entry) SetParent(g *Group) error {
	if g.db != e.db {
		return errors.New("keepass: entry and group belong to different databases")
	}
	if e.parent == g {
		return nil
	}
	if e.parent != nil {
		e.parent.removeEntry(e)
	}
	g.entries = append(g.entries, e)
	e.parent = g
	return nil
}

// Group is a hierarchical collection of entries and subgroups.
type Group struct {
	UUID                uuids.UUID
	Name                string
	Notes               string
	Icon                Icon
	CustomIconUUID      uuids.UUID
	IsExpanded          bool
	DefaultAutoTypeSeq  string
	EnableAutoType      Inheritable
	EnableSearching     Inheritable
	LastTopVisibleEntry uuids.UUID
	TimeInfo

	db       *Database
	parent   *Group
	groups   []*Group
	entries  []*Entry
}

// Groups returns g's subgroups as a slice.
func (g *Group) Groups() []*Group {
	gg := make([]*Group, len(g.groups))
	copy(gg, g.groups)
	return gg
}

// NGroups returns the number of subgroups g has.
func (g *Group) NGroups() int { return len(g.groups) }

// Group returns the subgroup at index i. It panics if i is out of range.
func (g *Group) Group(i int) *Group { return g.groups[i] }

// Entries returns g's entries as a slice.
func (g *Group) Entries() []*Entry {
	e := make([]*Entry, len(g.entries))
	copy(e, g.entries)
	return e
}

// NEntries returns the number of entries g has.
func (g *Group) NEntries() int { return len(g.entries) }

// Entry returns the entry at index i. It panics if i is out of range.
func (g *Group) Entry(i int) *Entry { return g.entries[i] }

// Parent returns g's parent group, or nil if g is the database root.
func (g *Group) Parent() *Group { return g.parent }

// NewSubgroup creates a new, empty group inside g and returns it.
func (g *Group) NewSubgroup() *Group {
	sub := &Group{UUID: g.db.newUUID(), db: g.db, parent: g}
	g.groups = append(g.groups, sub)
	return sub
}

// NewEntry creates a new entry inside g and returns it.
func (g *Group) NewEntry() (*Entry, error) {
	e := &Entry{UUID: g.db.newUUID(), db: g.db, parent: g}
	g.entries = append(g.entries, e)
	return e, nil
}

// RemoveSubgroup removes sub from g's children.
func (g *Group) RemoveSubgroup(sub *Group) {
	for i, gg := range g.groups {
		if gg == sub {
			copy(g.groups[i:], g.groups[i+1:])
			g.groups[len(g.groups)-1] = nil
			g.groups = g.groups[:len(g.groups)-1]
			sub.parent = nil
			return
		}
	}
}

// RemoveEntry removes e from g's entries.
func (g *Group) RemoveEntry(e *Entry) {
	g.removeEntry(e)
}

func (g *Group) removeEntry(e *Entry) {
	for i, ee := range g.entries {
		if ee == e {
			copy(g.entries[i:], g.entries[i+1:])
			g.entries[len(g.entries)-1] = nil
			g.entries = g.entries[:len(g.entries)-1]
			e.parent = nil
			return
		}
	}
}

// isDescendant reports whether dst is g or one of g's subgroups,
// transitively.
func isDescendant(dst, g *Group) bool {
	for d := dst; d != nil; d = d.parent {
		if d == g {
			return true
		}
	}
	return false
}

// SetParent moves g to be a child of dst. It is an error to move the
// database root, to move a group under itself, or to move a group under
// one of its own descendants (which would disconnect the subtree from
// the root entirely).
func (g *Group) SetParent(dst *Group) error {
	if g.db != dst.db {
		return errors.New("keepass: groups belong to different databases")
	}
	if g.parent == nil {
		return errors.New("keepass: cannot move the root group")
	}
	if g == dst {
		return errors.New("keepass: cannot move a group under itself")
	}
	if isDescendant(dst, g) {
		return errors.New("keepass: cannot move a group under its own descendant")
	}
	if g.parent == dst {
		return nil
	}
	g.parent.RemoveSubgroup(g)
	dst.groups = append(dst.groups, g)
	g.parent = dst
	return nil
}

// Meta holds database-wide settings and bookkeeping that doesn't belong
// to any one Group or Entry.
type Meta struct {
	Generator   string
	Name        string
	NameChanged time.Time

	Description        string
	DescriptionChanged time.Time

	DefaultUsername        string
	DefaultUsernameChanged time.Time

	Color string

	MasterKeyChanged       time.Time
	MasterKeyChangeRec     int
	MasterKeyChangeForce   int

	RecycleBinEnabled bool
	RecycleBinUUID    uuids.UUID
	RecycleBinChanged time.Time

	EntryTemplatesGroup        uuids.UUID
	EntryTemplatesGroupChanged time.Time

	HistoryMaxItems int
	HistoryMaxSize  int64

	LastSelectedGroup        uuids.UUID
	LastTopVisibleGroup      uuids.UUID

	ProtectTitle    bool
	ProtectUserName bool
	ProtectPassword bool
	ProtectURL      bool
	ProtectNotes    bool

	CustomIcons []CustomIcon
	CustomData  map[string]string

	// HeaderHash is the SHA-256 the XML document claims the raw header
	// bytes hash to, decoded from the base64 text of its HeaderHash
	// element. Verified by ReadDatabase; WriteDatabase ignores this field
	// and writes a freshly computed hash. Empty means the document
	// carries no binding.
	HeaderHash []byte
}

// Database is a rooted tree of Groups and Entries, plus the metadata and
// cryptographic parameters needed to write it back out.
type Database struct {
	Meta Meta

	CompressionGzip bool
	Cipher          kdbcrypt.Cipher
	KDFRounds       uint64

	DeletedObjects []DeletedObject

	root *Group
	rand io.Reader
}

// Root returns the database's single root group.
func (db *Database) Root() *Group {
	return db.root
}

func (db *Database) newUUID() uuids.UUID {
	u, err := uuids.New4(db.rand)
	if err != nil {
		// db.rand is only ever crypto/rand.Reader or a deterministic test
		// source; both are infallible in practice.
		panic(err)
	}
	return u
}

// Find walks the tree looking for the entry (including history entries)
// with the given UUID.
func (db *Database) Find(u uuids.UUID) *Entry {
	var found *Entry
	db.walk(db.root, func(g *Group) {}, func(e *Entry) {
		if found == nil && e.UUID == u {
			found = e
		}
	})
	return found
}

// FindGroup walks the tree looking for the group with the given UUID.
func (db *Database) FindGroup(u uuids.UUID) *Group {
	var found *Group
	db.walk(db.root, func(g *Group) {
		if found == nil && g.UUID == u {
			found = g
		}
	}, func(e *Entry) {})
	return found
}

func (db *Database) walk(g *Group, onGroup func(*Group), onEntry func(*Entry)) {
	onGroup(g)
	for _, e := range g.entries {
		onEntry(e)
	}
	for _, sub := range g.groups {
		db.walk(sub, onGroup, onEntry)
	}
}

// newDatabase creates an empty database with a freshly generated root
// group, the way New does for callers starting from scratch.
func newDatabase(rand io.Reader) *Database {
	db := &Database{rand: rand}
	db.root = &Group{db: db}
	root, err := uuids.New4(rand)
	if err == nil {
		db.root.UUID = root
	}
	return db
}
