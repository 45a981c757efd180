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
	"runtime"
	"strings"

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/thesaurus"
)

// BuildHelp is the help string for this command.
const BuildHelp = "\nbuild parameters:\n" +
	"elthesaurus build sam-file(,sam-file)* thesaurus-file\n" +
	"--reference fasta-or-elfasta-file\n" +
	"--read-length nr\n" +
	"[--max-mismatches nr]\n" +
	"[--max-penalty nr]\n" +
	"[--min-mapq nr]\n" +
	"[--bucket-spacing nr]\n" +
	"[--work-path path]\n" +
	"[--skip-pass1]\n" +
	"[--skip-pass2]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Build implements the elthesaurus build command.
func Build() {
	var (
		reference            string
		readLength           int
		maxMismatches        int
		maxPenalty           int
		minMapQ              int
		bucketSpacing        int
		workPath             string
		skipPass1, skipPass2 bool
		nrOfThreads          int
		timed                bool
		profile, logPath     string
	)

	var flags flag.FlagSet

	flags.StringVar(&reference, "reference", "", "reference genome in fasta or elfasta format")
	flags.IntVar(&readLength, "read-length", 0, "length of the reads the input alignments were generated from")
	flags.IntVar(&maxMismatches, "max-mismatches", 5, "mismatch budget the input alignments were produced with")
	flags.IntVar(&maxPenalty, "max-penalty", 2, "maximum number of substitutions per thesaurus entry")
	flags.IntVar(&minMapQ, "min-mapq", 0, "discard alignment records below this mapping quality")
	flags.IntVar(&bucketSpacing, "bucket-spacing", 1000000, "genomic width of the sort buckets")
	flags.StringVar(&workPath, "work-path", "", "directory for intermediate files")
	flags.BoolVar(&skipPass1, "skip-pass1", false, "reuse the raw entry files of a previous run in the work path")
	flags.BoolVar(&skipPass2, "skip-pass2", false, "stop after writing the raw entry files to the work path")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 4, BuildHelp)

	input := getFilename(os.Args[2], BuildHelp)
	output := getFilename(os.Args[3], BuildHelp)

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	samFiles := strings.Split(input, ",")
	if !skipPass1 {
		for _, samFile := range samFiles {
			if !checkExist("", samFile) {
				sanityChecksFailed = true
			}
		}
	}
	if !skipPass2 && !checkCreate("", output) {
		sanityChecksFailed = true
	}

	if reference == "" {
		sanityChecksFailed = true
		log.Println("Error: Attempt to build a thesaurus without specifying a reference file. Please add the --reference option to your call.")
	} else if !checkExist("--reference", reference) {
		sanityChecksFailed = true
	}

	if readLength < 1 {
		sanityChecksFailed = true
		log.Println("Error: Invalid or missing read-length: ", readLength)
	}
	if maxMismatches < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid max-mismatches: ", maxMismatches)
	}
	if maxPenalty < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid max-penalty: ", maxPenalty)
	}
	if minMapQ < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid min-mapq: ", minMapQ)
	}
	if bucketSpacing < 1 {
		sanityChecksFailed = true
		log.Println("Error: Invalid bucket-spacing: ", bucketSpacing)
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid nr-of-threads: ", nrOfThreads)
	}

	if skipPass1 {
		if workPath == "" {
			sanityChecksFailed = true
			log.Println("Error: Attempt to skip pass 1 without specifying the work path of a previous run. Please add the --work-path option to your call.")
		} else if !checkExist("--work-path", workPath) {
			sanityChecksFailed = true
		}
		if skipPass2 {
			sanityChecksFailed = true
			log.Println("Error: Cannot use --skip-pass1 and --skip-pass2 in the same build command.")
		}
	}

	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, BuildHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " build ", input, " ", output)
	fmt.Fprint(&command, " --reference ", reference)
	fmt.Fprint(&command, " --read-length ", readLength)
	fmt.Fprint(&command, " --max-mismatches ", maxMismatches)
	fmt.Fprint(&command, " --max-penalty ", maxPenalty)

	if minMapQ > 0 {
		fmt.Fprint(&command, " --min-mapq ", minMapQ)
	}

	fmt.Fprint(&command, " --bucket-spacing ", bucketSpacing)

	if workPath != "" {
		fmt.Fprint(&command, " --work-path ", workPath)
	}

	if skipPass1 {
		fmt.Fprint(&command, " --skip-pass1")
	}

	if skipPass2 {
		fmt.Fprint(&command, " --skip-pass2")
	}

	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
		fmt.Fprint(&command, " --nr-of-threads ", nrOfThreads)
	}

	if timed {
		fmt.Fprint(&command, " --timed")
	}

	if profile != "" {
		fmt.Fprint(&command, " --profile ", profile)
	}

	if logPath != "" {
		fmt.Fprint(&command, " --log-path ", logPath)
	}

	// executing command

	log.Println("Executing command:\n", command.String())

	ctx, stop := interruptContext()
	defer stop()

	genome := fasta.OpenGenome(reference)

	builder := thesaurus.NewBuilder(genome, thesaurus.Opts{
		Genome:        reference,
		ReadLength:    readLength,
		MaxMismatches: maxMismatches,
		MaxPenalty:    maxPenalty,
		MinMapQ:       minMapQ,
		BucketSpacing: int32(bucketSpacing),
		Workers:       nrOfThreads,
		WorkPath:      workPath,
		SkipPass1:     skipPass1,
		SkipPass2:     skipPass2,
	})

	timedRun(timed, profile, "Building thesaurus.", 1, func() {
		if err := builder.Run(ctx, samFiles, output); err != nil {
			log.Panic(err)
		}
	})

	if !skipPass2 {
		log.Println("Thesaurus written to", output)
	}
}
