// elThesaurus: a high-performance tool for building genome repeat thesauri.
// Copyright (c) 2026 imec vzw.

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

package sam

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/exascience/elthesaurus/utils"
)

func cigarsEqual(cigars1, cigars2 []CigarOperation) bool {
	if len(cigars1) != len(cigars2) {
		return false
	}
	for i, op := range cigars1 {
		if op != cigars2[i] {
			return false
		}
	}
	return true
}

func TestScanCigarString(t *testing.T) {
	cigar, err := ScanCigarString("100M")
	if err != nil {
		t.Error("ScanCigarString 1 failed")
	}
	if !cigarsEqual(cigar, []CigarOperation{{100, 'M'}}) {
		t.Error("ScanCigarString 2 failed")
	}
	cigar, err = ScanCigarString("5s10m2i3d20m")
	if err != nil {
		t.Error("ScanCigarString 3 failed")
	}
	if !cigarsEqual(cigar, []CigarOperation{{5, 'S'}, {10, 'M'}, {2, 'I'}, {3, 'D'}, {20, 'M'}}) {
		t.Error("ScanCigarString 4 failed")
	}
	cigar, err = ScanCigarString("*")
	if (err != nil) || (len(cigar) != 0) {
		t.Error("ScanCigarString 5 failed")
	}
	if _, err = ScanCigarString("12Q"); err == nil {
		t.Error("ScanCigarString 6 failed")
	}
	if _, err = ScanCigarString("M"); err == nil {
		t.Error("ScanCigarString 7 failed")
	}
	cigar1, _ := ScanCigarString("77M3D20M")
	cigar2, _ := ScanCigarString("77M3D20M")
	if &cigar1[0] != &cigar2[0] {
		t.Error("ScanCigarString cache failed")
	}
}

func TestCigarLengths(t *testing.T) {
	cigar, err := ScanCigarString("5S10M2I3D20M")
	if err != nil {
		t.Error("CigarLengths 1 failed")
	}
	if ReadLength(cigar) != 37 {
		t.Error("CigarLengths 2 failed")
	}
	if ReferenceLength(cigar) != 33 {
		t.Error("CigarLengths 3 failed")
	}
	single, _ := ScanCigarString("50M")
	if !IsSingleMatchBlock(single, 50) {
		t.Error("IsSingleMatchBlock 1 failed")
	}
	if IsSingleMatchBlock(single, 49) {
		t.Error("IsSingleMatchBlock 2 failed")
	}
	if IsSingleMatchBlock(cigar, 37) {
		t.Error("IsSingleMatchBlock 3 failed")
	}
	skip, _ := ScanCigarString("50X")
	if IsSingleMatchBlock(skip, 50) {
		t.Error("IsSingleMatchBlock 4 failed")
	}
}

func TestEditDistance(t *testing.T) {
	aln := NewAlignment()
	if _, ok := aln.EditDistance(); ok {
		t.Error("EditDistance 1 failed")
	}
	aln.SetEditDistance(3)
	if nm, ok := aln.EditDistance(); !ok || (nm != 3) {
		t.Error("EditDistance 2 failed")
	}
	aln.SetEditDistance(5)
	if nm, ok := aln.EditDistance(); !ok || (nm != 5) {
		t.Error("EditDistance 3 failed")
	}
	if len(aln.TAGS) != 1 {
		t.Error("EditDistance 4 failed")
	}
}

func TestAlignmentFormatParse(t *testing.T) {
	aln := NewAlignment()
	aln.QNAME = "chr1:101-200"
	aln.FLAG = Reversed
	aln.RNAME = "chr2"
	aln.POS = 5001
	aln.MAPQ = 98
	aln.CIGAR = "100M"
	aln.RNEXT = "*"
	aln.PNEXT = 0
	aln.TLEN = 0
	aln.SEQ = strings.Repeat("ACGT", 25)
	aln.QUAL = strings.Repeat("I", 100)
	aln.SetEditDistance(2)
	pg := utils.Intern("PG")
	aln.TAGS.Set(pg, "elthesaurus")
	out, err := aln.Format(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[len(out)-1] != '\n' {
		t.Error("Format newline failed")
	}
	var sc StringScanner
	sc.Reset(string(out[:len(out)-1]))
	parsed := sc.ParseAlignment()
	if sc.Err() != nil {
		t.Fatal(sc.Err())
	}
	if (parsed.QNAME != aln.QNAME) || (parsed.FLAG != aln.FLAG) ||
		(parsed.RNAME != aln.RNAME) || (parsed.POS != aln.POS) ||
		(parsed.MAPQ != aln.MAPQ) || (parsed.CIGAR != aln.CIGAR) ||
		(parsed.RNEXT != aln.RNEXT) || (parsed.PNEXT != aln.PNEXT) ||
		(parsed.TLEN != aln.TLEN) || (parsed.SEQ != aln.SEQ) ||
		(parsed.QUAL != aln.QUAL) {
		t.Error("FormatParse mandatory fields failed")
	}
	if nm, ok := parsed.EditDistance(); !ok || (nm != 2) {
		t.Error("FormatParse NM failed")
	}
	if value, ok := parsed.TAGS.Get(pg); !ok || (value != "elthesaurus") {
		t.Error("FormatParse PG failed")
	}
	if !parsed.IsReversed() || parsed.IsUnmapped() {
		t.Error("FormatParse FLAG predicates failed")
	}
}

func TestParseMalformedAlignment(t *testing.T) {
	var sc StringScanner
	sc.Reset("read1\tnotaflag\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*")
	sc.ParseAlignment()
	if sc.Err() == nil {
		t.Error("ParseMalformedAlignment 1 failed")
	}
	sc.Reset("read1\t0\tchr1")
	sc.ParseAlignment()
	if sc.Err() == nil {
		t.Error("ParseMalformedAlignment 2 failed")
	}
	for _, line := range []string{
		"read1\t0\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*\tNM:",
		"read1\t0\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*\tXA:A:",
		"read1\t0\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*\tXB:B:",
		"read1\t0\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*\tXH:H:ABC",
	} {
		sc.Reset(line)
		sc.ParseAlignment()
		if sc.Err() == nil {
			t.Errorf("ParseAlignment accepted %q", line)
		}
	}
}

func TestParseTrailingOptionalField(t *testing.T) {
	var sc StringScanner
	sc.Reset("read1\t0\tchr1\t100\t60\t10M\t*\t0\t0\tACGTACGTAC\t*\tXA:A:x")
	aln := sc.ParseAlignment()
	if sc.Err() != nil {
		t.Fatal(sc.Err())
	}
	if value, ok := aln.TAGS.Get(utils.Intern("XA")); !ok || (value != byte('x')) {
		t.Error("ParseTrailingOptionalField failed")
	}
}

func TestHeaderFormatParse(t *testing.T) {
	hdr := NewHeader()
	hdr.EnsureHD()
	hdr.SetHDSO(Coordinate)
	sq := utils.StringMap{"SN": "chr1"}
	SetSQLN(sq, 1000)
	hdr.SQ = append(hdr.SQ, sq)
	hdr.SQ = append(hdr.SQ, utils.StringMap{"SN": "chr2", "LN": "500"})
	hdr.PG = append(hdr.PG, utils.StringMap{"ID": "elthesaurus", "PN": "elthesaurus"})
	hdr.CO = append(hdr.CO, "synthetic header for testing")
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	hdr.Format(w)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	parsed, err := parseHeader(bufio.NewReader(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.HDSO() != Coordinate {
		t.Error("HeaderFormatParse SO failed")
	}
	if len(parsed.SQ) != 2 {
		t.Fatal("HeaderFormatParse SQ count failed")
	}
	if parsed.SQ[0]["SN"] != "chr1" {
		t.Error("HeaderFormatParse SQ order failed")
	}
	if ln, err := SQLN(parsed.SQ[0]); (err != nil) || (ln != 1000) {
		t.Error("HeaderFormatParse LN failed")
	}
	if len(parsed.PG) != 1 || parsed.PG[0]["ID"] != "elthesaurus" {
		t.Error("HeaderFormatParse PG failed")
	}
	if len(parsed.CO) != 1 || parsed.CO[0] != "synthetic header for testing" {
		t.Error("HeaderFormatParse CO failed")
	}
}
