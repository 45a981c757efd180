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
	"flag"
	"os"
	"sort"

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/intervals"
	"github.com/exascience/elthesaurus/thesaurus"
)

// FastaToElfastaHelp is the help string for this command.
const FastaToElfastaHelp = "fasta-to-elfasta parameters:\n" +
	"elthesaurus fasta-to-elfasta fasta-file elfasta-file\n" +
	"[--log-path path]\n"

// FastaToElfasta implements the elthesaurus fasta-to-elfasta command.
func FastaToElfasta() {
	var logPath string

	var flags flag.FlagSet
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")
	parseFlags(flags, 4, FastaToElfastaHelp)

	input := getFilename(os.Args[2], FastaToElfastaHelp)
	output := getFilename(os.Args[3], FastaToElfastaHelp)

	setLogOutput(logPath)

	// Normalize like OpenGenome does for plain FASTA, so that a
	// converted reference aligns identically to the original one.
	fasta.ToElfasta(fasta.ParseFasta(input, nil, true, true), output)
}

// ThesaurusToElsitesHelp is the help string for this command.
const ThesaurusToElsitesHelp = "\nthesaurus-to-elsites parameters:\n" +
	"elthesaurus thesaurus-to-elsites thesaurus-file elsites-file\n" +
	"[--log-path path]\n"

// ThesaurusToElsites implements the elthesaurus thesaurus-to-elsites
// command. It exports the union of the align and origin regions of a
// thesaurus as an .elsites intervals file.
func ThesaurusToElsites() {
	var logPath string

	var flags flag.FlagSet
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")
	parseFlags(flags, 4, ThesaurusToElsitesHelp)

	input := getFilename(os.Args[2], ThesaurusToElsitesHelp)
	output := getFilename(os.Args[3], ThesaurusToElsitesHelp)

	setLogOutput(logPath)

	thes := thesaurus.Load(input)
	regions := thes.Regions()

	// Chromosomes that only ever occur on the origin side are not in
	// thes.Chroms; list them after the align chromosomes.
	chroms := append([]string(nil), thes.Chroms...)
	covered := make(map[string]bool)
	for _, chrom := range chroms {
		covered[chrom] = true
	}
	var rest []string
	for chrom := range regions {
		if !covered[chrom] {
			rest = append(rest, chrom)
		}
	}
	sort.Strings(rest)
	chroms = append(chroms, rest...)

	intervals.ToElsitesFile(chroms, regions, output)
}
