// elThesaurus: a high-performance tool for building genome repeat thesauri.
// Copyright (c) 2024-2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elthesaurus/blob/master/LICENSE.txt>.

// elThesaurus is a high-performance tool for building thesauri of
// repeated regions in reference genomes by aligning a genome against
// itself.
//
// Please see https://github.com/exascience/elthesaurus for a
// documentation of the tool.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/exascience/elthesaurus/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: generate-reads, align, build")
	fmt.Fprint(os.Stderr, "\n", cmd.GenerateReadsHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.AlignHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.BuildHelp)
}

func printExtendedHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: generate-reads, align, build, fasta-to-elfasta, thesaurus-to-elsites")
	fmt.Fprint(os.Stderr, "\n", cmd.GenerateReadsHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.AlignHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.BuildHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.FastaToElfastaHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.ThesaurusToElsitesHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Println("Incorrect number of parameters.")
		fmt.Fprintln(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate-reads":
		cmd.GenerateReads()
	case "align":
		cmd.Align()
	case "build":
		cmd.Build()
	case "fasta-to-elfasta":
		cmd.FastaToElfasta()
	case "thesaurus-to-elsites":
		cmd.ThesaurusToElsites()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	case "help-extended", "-help-extended", "--help-extended", "-he", "--he":
		printExtendedHelp()
	default:
		log.Println("Unknown command:", os.Args[1])
		fmt.Fprintln(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}
}
