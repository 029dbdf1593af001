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

// Command kdbxsh is an interactive shell for browsing a KDBX v3
// database: list groups and entries, move between groups, show an
// entry's fields, and search titles.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"kdbxreader/pkg/keepass"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: kdbxsh DATABASE.kdbx\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := openDatabase(flag.Arg(0))
	if err != nil {
		log.Fatalf("kdbxsh: %v", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "/> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Fatalf("kdbxsh: %v", err)
	}
	defer rl.Close()

	sh := &shell{db: db, cwd: db.Root(), rl: rl}
	sh.loop()
}

func openDatabase(path string) (*keepass.Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pw, err := readPassword(fmt.Sprintf("Password for %s: ", path))
	if err != nil {
		return nil, err
	}
	key := keepass.CompositeKey{keepass.PasswordComponent(pw)}
	db, err := keepass.ReadDatabase(f, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// shell tracks the current working group and reads commands through
// readline until the user exits: read a line, split on spaces, dispatch
// on the first word.
type shell struct {
	db  *keepass.Database
	cwd *keepass.Group
	rl  *readline.Instance
}

func (sh *shell) loop() {
	for {
		sh.rl.SetPrompt(sh.prompt())
		line, err := sh.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		if err := sh.dispatch(args); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

var errExit = errors.New("exit")

func (sh *shell) prompt() string {
	return sh.path() + "> "
}

func (sh *shell) path() string {
	var parts []string
	for g := sh.cwd; g != nil && g.Parent() != nil; g = g.Parent() {
		parts = append([]string{g.Name}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

func (sh *shell) dispatch(args []string) error {
	switch args[0] {
	case "ls":
		sh.cmdLs()
		return nil
	case "cd":
		return sh.cmdCd(args[1:])
	case "show":
		return sh.cmdShow(args[1:])
	case "search", "find":
		sh.cmdSearch(args[1:])
		return nil
	case "help":
		sh.cmdHelp()
		return nil
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command: %s (try 'help')", args[0])
	}
}

func (sh *shell) cmdLs() {
	for i := 0; i < sh.cwd.NGroups(); i++ {
		fmt.Printf("%s/\n", sh.cwd.Group(i).Name)
	}
	for i := 0; i < sh.cwd.NEntries(); i++ {
		fmt.Println(sh.cwd.Entry(i).Title())
	}
}

func (sh *shell) cmdCd(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cd <group|..>")
	}
	if args[0] == ".." {
		if p := sh.cwd.Parent(); p != nil {
			sh.cwd = p
		}
		return nil
	}
	for i := 0; i < sh.cwd.NGroups(); i++ {
		g := sh.cwd.Group(i)
		if g.Name == args[0] {
			sh.cwd = g
			return nil
		}
	}
	return fmt.Errorf("no such group: %s", args[0])
}

func (sh *shell) cmdShow(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <entry title>")
	}
	for i := 0; i < sh.cwd.NEntries(); i++ {
		e := sh.cwd.Entry(i)
		if e.Title() == args[0] {
			printEntry(e)
			return nil
		}
	}
	return fmt.Errorf("no such entry: %s", args[0])
}

func printEntry(e *keepass.Entry) {
	fmt.Printf("Title:    %s\n", e.Title())
	fmt.Printf("Username: %s\n", e.Username())
	fmt.Printf("Password: %s\n", e.Password())
	fmt.Printf("URL:      %s\n", e.URL())
	if notes := e.Notes(); notes != "" {
		fmt.Printf("Notes:    %s\n", notes)
	}
}

func (sh *shell) cmdSearch(args []string) {
	query := strings.Join(args, " ")
	for _, e := range sh.db.Search(query) {
		fmt.Println(e.Title())
	}
}

func (sh *shell) cmdHelp() {
	fmt.Println(`Commands:
  ls             list groups and entries in the current group
  cd <group>     enter a subgroup; cd .. to go up
  show <entry>   print an entry's fields
  search <query> find entries whose title matches every word of query
  exit, quit     leave the shell`)
}
