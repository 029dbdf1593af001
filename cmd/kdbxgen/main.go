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

// Command kdbxgen prints a randomly generated password or passphrase,
// suitable for piping straight into a new KDBX entry.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"kdbxreader/pkg/pwgen"
)

func main() {
	var (
		n            = flag.Uint("n", 20, "number of characters (or words, with -phrase)")
		phrase       = flag.Bool("phrase", false, "generate a passphrase instead of a character password")
		possessives  = flag.Bool("possessives", false, "allow possessive word forms in a passphrase")
		noUpper      = flag.Bool("no-upper", false, "exclude uppercase letters")
		noLower      = flag.Bool("no-lower", false, "exclude lowercase letters")
		noDigits     = flag.Bool("no-digits", false, "exclude digits")
		symbols      = flag.Bool("symbols", false, "include symbol characters")
		wordListPath = flag.String("words-file", "/usr/share/dict/words", "word list for -phrase")
	)
	flag.Parse()

	if *phrase {
		if *n < 1 || *n > 50 {
			log.Fatal("kdbxgen: -n must be between 1 and 50 with -phrase")
		}
		wl := pwgen.NewWordList(*wordListPath)
		pw, err := wl.Passphrase(int(*n), *possessives)
		if err != nil {
			log.Fatalf("kdbxgen: %v", err)
		}
		fmt.Println(pw)
		return
	}

	if *n < 1 || *n > 200 {
		log.Fatal("kdbxgen: -n must be between 1 and 200")
	}
	set := pwgen.Charset{
		Upper:   !*noUpper,
		Lower:   !*noLower,
		Digits:  !*noDigits,
		Symbols: *symbols,
	}
	pw, err := pwgen.Password(int(*n), set)
	if err != nil {
		log.Fatalf("kdbxgen: %v", err)
	}
	fmt.Fprintln(os.Stdout, pw)
}
