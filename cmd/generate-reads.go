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

package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/exascience/elthesaurus/fasta"
)

// GenerateReadsHelp is the help string for this command.
const GenerateReadsHelp = "\ngenerate-reads parameters:\n" +
	"elthesaurus generate-reads fasta-file reads-file\n" +
	"--read-length nr\n" +
	"[--stride nr]\n" +
	"[--gzip]\n" +
	"[--timed]\n" +
	"[--log-path path]\n"

// GenerateReads implements the elthesaurus generate-reads command.
func GenerateReads() {
	var (
		readLength, stride int
		gzipOutput, timed  bool
		logPath            string
	)

	var flags flag.FlagSet

	flags.IntVar(&readLength, "read-length", 0, "length of the generated reads")
	flags.IntVar(&stride, "stride", 0, "distance between successive read start positions (default read-length/2)")
	flags.BoolVar(&gzipOutput, "gzip", false, "compress the reads file")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 4, GenerateReadsHelp)

	input := getFilename(os.Args[2], GenerateReadsHelp)
	output := getFilename(os.Args[3], GenerateReadsHelp)

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}

	if readLength < 1 {
		sanityChecksFailed = true
		log.Println("Error: Invalid or missing read-length: ", readLength)
	}
	if stride < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid stride: ", stride)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, GenerateReadsHelp)
		os.Exit(1)
	}

	if stride == 0 {
		stride = readLength / 2
	}
	if gzipOutput && filepath.Ext(output) != ".gz" {
		output += ".gz"
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " generate-reads ", input, " ", output)
	fmt.Fprint(&command, " --read-length ", readLength)
	fmt.Fprint(&command, " --stride ", stride)

	if gzipOutput {
		fmt.Fprint(&command, " --gzip")
	}

	if timed {
		fmt.Fprint(&command, " --timed")
	}

	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	// executing command

	log.Println("Executing command:\n", command.String())

	timedRun(timed, "", "Generating reads.", 1, func() {
		genome := fasta.OpenGenome(input)
		out := fasta.CreateReads(output)
		defer out.Close()
		nofReads := fasta.GenerateReads(genome, readLength, stride, out)
		log.Printf("Generated %v reads of length %v.", nofReads, readLength)
	})
}
