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

	"github.com/exascience/elthesaurus/align"
	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/internal"
	"github.com/exascience/elthesaurus/sam"
)

// AlignHelp is the help string for this command.
const AlignHelp = "\nalign parameters:\n" +
	"elthesaurus align reads-file sam-output-file\n" +
	"--reference fasta-or-elfasta-file\n" +
	"[--ear-length nr]\n" +
	"[--max-mismatches nr]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Align implements the elthesaurus align command.
func Align() {
	var (
		reference        string
		earLength        int
		maxMismatches    int
		nrOfThreads      int
		timed            bool
		profile, logPath string
	)

	var flags flag.FlagSet

	flags.StringVar(&reference, "reference", "", "reference genome in fasta or elfasta format")
	flags.IntVar(&earLength, "ear-length", 5, "length of the read prefix and suffix used for index lookups")
	flags.IntVar(&maxMismatches, "max-mismatches", 5, "maximum number of substitutions per placement")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(flags, 4, AlignHelp)

	input := getFilename(os.Args[2], AlignHelp)
	output := getFilename(os.Args[3], AlignHelp)

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}

	if reference == "" {
		sanityChecksFailed = true
		log.Println("Error: Attempt to align reads without specifying a reference file. Please add the --reference option to your call.")
	} else if !checkExist("--reference", reference) {
		sanityChecksFailed = true
	}

	if earLength < 1 || earLength > align.MaxEarLength {
		sanityChecksFailed = true
		log.Println("Error: Invalid ear-length: ", earLength)
	}
	if maxMismatches < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid max-mismatches: ", maxMismatches)
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Println("Error: Invalid nr-of-threads: ", nrOfThreads)
	}

	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, AlignHelp)
		os.Exit(1)
	}

	// building output command line

	var command bytes.Buffer
	fmt.Fprint(&command, os.Args[0], " align ", input, " ", output)
	fmt.Fprint(&command, " --reference ", reference)
	fmt.Fprint(&command, " --ear-length ", earLength)
	fmt.Fprint(&command, " --max-mismatches ", maxMismatches)

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

	out := sam.Create(output)
	defer out.Close()
	out.FormatHeader(align.Header(genome))

	opts := align.PipelineOpts{
		MaxMismatches: maxMismatches,
		Workers:       runtime.GOMAXPROCS(0),
	}

	var totals align.PipelineStats
	var buf []byte
	phase := int64(0)
	for _, chrom := range genome.Contigs() {
		phase++
		timedRun(timed, profile, fmt.Sprint("Aligning reads against ", chrom, "."), phase, func() {
			index := align.NewEarIndex(genome.Seq(chrom), earLength)
			reads := fasta.OpenReads(input)
			defer reads.Close()
			stats, err := align.RunPipeline(ctx, index, chrom, reads, func(alns []*sam.Alignment) {
				for _, aln := range alns {
					b, err := aln.Format(buf[:0])
					if err != nil {
						log.Panic(err)
					}
					buf = b
					internal.Write(out, buf)
				}
			}, opts)
			if err != nil {
				log.Panic(err)
			}
			log.Printf("%v: %v reads, %v placed, %v alignment records.", chrom, stats.Reads, stats.Placed, stats.Records)
			totals.Reads += stats.Reads
			totals.Placed += stats.Placed
			totals.Records += stats.Records
		})
	}
	log.Printf("Alignment done: %v reads streamed, %v placed, %v alignment records.", totals.Reads, totals.Placed, totals.Records)
}
