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
	"testing"

	"kdbxreader/pkg/fakerand"
)

func newTestDatabase() *Database {
	return New(fakerand.New())
}

func TestNewDatabase(t *testing.T) {
	db := newTestDatabase()
	if n := db.Root().NGroups(); n > 0 {
		t.Errorf("db.Root().NGroups() = %d; want 0", n)
	}
	if n := db.Root().NEntries(); n > 0 {
		t.Errorf("db.Root().NEntries() = %d; want 0", n)
	}
	if db.Root().UUID.IsZero() {
		t.Error("db.Root().UUID is zero; want generated")
	}
}

func TestNewEntryDifferentUUIDs(t *testing.T) {
	db := newTestDatabase()
	g := db.Root().NewSubgroup()

	e1, err := g.NewEntry()
	if err != nil {
		t.Fatal("g.NewEntry() #1:", err)
	}
	e2, err := g.NewEntry()
	if err != nil {
		t.Fatal("g.NewEntry() #2:", err)
	}
	if e1.UUID == e2.UUID {
		t.Errorf("g.NewEntry().UUID == g.NewEntry().UUID (%v); want different", e1.UUID)
	}
}

func TestNewSubgroupDifferentUUIDs(t *testing.T) {
	db := newTestDatabase()
	g1 := db.Root().NewSubgroup()
	g2 := db.Root().NewSubgroup()
	if g1.UUID == g2.UUID {
		t.Errorf("db.Root().NewSubgroup().UUID == db.Root().NewSubgroup().UUID (%v); want different", g1.UUID)
	}
}

func TestEntrySetParent(t *testing.T) {
	const (
		rootGroup = iota + 1
		groupA
		groupB
	)
	tests := []struct {
		name string
		src  int
		dst  int
		err  bool
	}{
		{name: "move A to B", src: groupA, dst: groupB},
		{name: "move B to A", src: groupB, dst: groupA},
		{name: "move A to root", src: groupA, dst: rootGroup},
		{name: "move A to A", src: groupA, dst: groupA},
	}
	for _, test := range tests {
		db := newTestDatabase()
		a := db.Root().NewSubgroup()
		a.Name = "Group A"
		b := db.Root().NewSubgroup()
		b.Name = "Group B"
		groups := [...]*Group{
			rootGroup: db.Root(),
			groupA:    a,
			groupB:    b,
		}

		ent, err := groups[test.src].NewEntry()
		if err != nil {
			t.Errorf("%s: NewEntry: %v", test.name, err)
			continue
		}

		err = ent.SetParent(groups[test.dst])
		if err != nil && !test.err {
			t.Errorf("%s: SetParent returned error: %v", test.name, err)
		} else if err == nil && test.err {
			t.Errorf("%s: SetParent did not return an error", test.name)
		}
		if err != nil {
			if !hasEntry(groups[test.src], ent) {
				t.Errorf("%s: entry is missing from original parent", test.name)
			}
			continue
		}
		if !hasEntry(groups[test.dst], ent) {
			t.Errorf("%s: entry is missing from new parent", test.name)
		}
		if p := ent.Parent(); p != groups[test.dst] {
			t.Errorf("%s: entry parent = %v; want %v", test.name, p, groups[test.dst])
		}
	}
}

func hasEntry(g *Group, e *Entry) bool {
	for i := 0; i < g.NEntries(); i++ {
		if g.Entry(i) == e {
			return true
		}
	}
	return false
}

func TestGroupSetParent(t *testing.T) {
	const (
		rootGroup = iota + 1
		groupA
		groupAA
		groupAAA
		groupB
	)
	srcs := [...]int{
		groupA:   rootGroup,
		groupAA:  groupA,
		groupAAA: groupAA,
		groupB:   rootGroup,
	}

	tests := []struct {
		name string
		grp  int
		dst  int
		err  bool
	}{
		{name: "move A under B", grp: groupA, dst: groupB},
		{name: "move root under root", grp: rootGroup, dst: rootGroup, err: true},
		{name: "move root under A", grp: rootGroup, dst: groupA, err: true},
		{name: "move A under root (no-op)", grp: groupA, dst: rootGroup},
		{name: "move A under A", grp: groupA, dst: groupA, err: true},
		{name: "move A under AA", grp: groupA, dst: groupAA, err: true},
		{name: "move A under AAA", grp: groupA, dst: groupAAA, err: true},
		{name: "move AA under root", grp: groupAA, dst: rootGroup},
	}
	for _, test := range tests {
		db := newTestDatabase()
		a := db.Root().NewSubgroup()
		a.Name = "Group A"
		aa := a.NewSubgroup()
		aa.Name = "Group AA"
		aaa := aa.NewSubgroup()
		aaa.Name = "Group AAA"
		b := db.Root().NewSubgroup()
		b.Name = "Group B"
		groups := [...]*Group{
			rootGroup: db.Root(),
			groupA:    a,
			groupAA:   aa,
			groupAAA:  aaa,
			groupB:    b,
		}

		g, src := groups[test.grp], srcs[test.grp]
		err := g.SetParent(groups[test.dst])
		if err != nil && !test.err {
			t.Errorf("%s: SetParent returned error: %v", test.name, err)
		} else if err == nil && test.err {
			t.Errorf("%s: SetParent did not return an error", test.name)
		}
		if err != nil || src == test.dst {
			if src != 0 && !hasSubgroup(groups[src], g) {
				t.Errorf("%s: group is missing from original parent", test.name)
			}
			if src != test.dst && hasSubgroup(groups[test.dst], g) {
				t.Errorf("%s: group is present in new parent", test.name)
			}
			if p := g.Parent(); p != groups[src] {
				t.Errorf("%s: group parent = %v; want %v", test.name, p, groups[src])
			}
		} else {
			if src != 0 && hasSubgroup(groups[src], g) {
				t.Errorf("%s: group is present in original parent", test.name)
			}
			if !hasSubgroup(groups[test.dst], g) {
				t.Errorf("%s: group is missing from new parent", test.name)
			}
			if p := g.Parent(); p != groups[test.dst] {
				t.Errorf("%s: group parent = %v; want %v", test.name, p, groups[test.dst])
			}
		}
	}
}

func hasSubgroup(g, sub *Group) bool {
	for i := 0; i < g.NGroups(); i++ {
		if g.Group(i) == sub {
			return true
		}
	}
	return false
}

func TestEntryWellKnownAttributes(t *testing.T) {
	db := newTestDatabase()
	e, err := db.Root().NewEntry()
	if err != nil {
		t.Fatal("NewEntry:", err)
	}
	e.SetTitle("My Entry")
	e.SetUsername("alice")
	e.SetPassword("hunter2")
	e.SetURL("https://example.com")
	e.SetNotes("some notes")

	if got := e.Title(); got != "My Entry" {
		t.Errorf("Title() = %q; want %q", got, "My Entry")
	}
	if got := e.Username(); got != "alice" {
		t.Errorf("Username() = %q; want %q", got, "alice")
	}
	if got := e.Password(); got != "hunter2" {
		t.Errorf("Password() = %q; want %q", got, "hunter2")
	}
	if got := e.URL(); got != "https://example.com" {
		t.Errorf("URL() = %q; want %q", got, "https://example.com")
	}
	if got := e.Notes(); got != "some notes" {
		t.Errorf("Notes() = %q; want %q", got, "some notes")
	}
}

func TestFindAndFindGroup(t *testing.T) {
	db := newTestDatabase()
	g := db.Root().NewSubgroup()
	e, err := g.NewEntry()
	if err != nil {
		t.Fatal("NewEntry:", err)
	}

	if got := db.Find(e.UUID); got != e {
		t.Errorf("db.Find(e.UUID) = %v; want %v", got, e)
	}
	if got := db.FindGroup(g.UUID); got != g {
		t.Errorf("db.FindGroup(g.UUID) = %v; want %v", got, g)
	}
	if got := db.Find(g.UUID); got != nil {
		t.Errorf("db.Find(g.UUID) = %v; want nil", got)
	}
}
