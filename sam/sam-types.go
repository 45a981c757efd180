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

package sam

import (
	"fmt"
	"strconv"
	"sync"
	"unicode"

	"github.com/exascience/elthesaurus/utils"
)

// FileFormatVersion is the SAM file format version string written to
// @HD lines of newly created headers.
const FileFormatVersion = "1.6"

// IsHeaderUserTag determines if the given tag is a user-defined tag
// for a header record type.
func IsHeaderUserTag(code string) bool {
	for _, c := range code {
		if ('a' <= c) && (c <= 'z') {
			return true
		}
	}
	return false
}

// Header represents the header section of a SAM file.
//
// The HD, SQ, RG, and PG fields hold the parsed @HD, @SQ, @RG, and
// @PG lines, CO holds the unparsed @CO lines, and UserRecords holds
// any header lines with user-defined record type codes.
type Header struct {
	HD          utils.StringMap
	SQ, RG, PG  []utils.StringMap
	CO          []string
	UserRecords map[string][]utils.StringMap
}

// SQLN returns the LN field value of the given @SQ header line.
func SQLN(record utils.StringMap) (int32, error) {
	ln, found := record["LN"]
	if !found {
		return 0x7FFFFFFF, fmt.Errorf("LN entry in a SQ header line missing")
	}
	val, err := strconv.ParseInt(ln, 10, 32)
	return int32(val), err
}

// SetSQLN sets the LN field value of the given @SQ header line.
func SetSQLN(record utils.StringMap, value int32) {
	record["LN"] = strconv.FormatInt(int64(value), 10)
}

// NewHeader allocates and initializes an empty Header.
func NewHeader() *Header { return &Header{} }

// EnsureHD returns the @HD line of the header, adding one with a
// default VN field if it is not present yet.
func (hdr *Header) EnsureHD() utils.StringMap {
	if hdr.HD == nil {
		hdr.HD = utils.StringMap{"VN": FileFormatVersion}
	}
	return hdr.HD
}

// SortingOrder represents the possible values of the SO field of an
// @HD header line.
type SortingOrder string

// Sorting orders.
const (
	Keep       SortingOrder = "keep"
	Unknown    SortingOrder = "unknown"
	Unsorted   SortingOrder = "unsorted"
	Queryname  SortingOrder = "queryname"
	Coordinate SortingOrder = "coordinate"
)

// HDSO returns the sorting order stored in the @HD line of the
// header, or Unknown if there is none.
func (hdr *Header) HDSO() SortingOrder {
	hd := hdr.EnsureHD()
	if sortingOrder, found := hd["SO"]; found {
		return SortingOrder(sortingOrder)
	}
	return Unknown
}

// SetHDSO sets the sorting order stored in the @HD line of the
// header.
func (hdr *Header) SetHDSO(value SortingOrder) {
	hd := hdr.EnsureHD()
	delete(hd, "GO")
	hd["SO"] = string(value)
}

// EnsureUserRecords returns the user-defined header records of the
// header, adding an empty map if it is not present yet.
func (hdr *Header) EnsureUserRecords() map[string][]utils.StringMap {
	if hdr.UserRecords == nil {
		hdr.UserRecords = make(map[string][]utils.StringMap)
	}
	return hdr.UserRecords
}

// AddUserRecord adds a header line with a user-defined record type
// code to the header.
func (hdr *Header) AddUserRecord(code string, record utils.StringMap) {
	if records, found := hdr.UserRecords[code]; found {
		hdr.UserRecords[code] = append(records, record)
	} else {
		hdr.EnsureUserRecords()[code] = []utils.StringMap{record}
	}
}

// Alignment represents a single alignment line of a SAM file.
//
// TAGS holds the optional fields, keyed by interned tag symbols.
type Alignment struct {
	QNAME string
	FLAG  uint16
	RNAME string
	POS   int32
	MAPQ  byte
	CIGAR string
	RNEXT string
	PNEXT int32
	TLEN  int32
	SEQ   string
	QUAL  string
	TAGS  utils.SmallMap
}

// NM is the interned symbol for the edit distance optional field.
var NM = utils.Intern("NM")

// EditDistance returns the value of the NM optional field, if
// present.
func (aln *Alignment) EditDistance() (int32, bool) {
	if value, ok := aln.TAGS.Get(NM); ok {
		if nm, ok := value.(int32); ok {
			return nm, true
		}
	}
	return 0, false
}

// SetEditDistance sets the NM optional field.
func (aln *Alignment) SetEditDistance(nm int32) {
	aln.TAGS.Set(NM, nm)
}

// NewAlignment allocates and initializes an empty alignment.
func NewAlignment() *Alignment {
	return &Alignment{
		TAGS: make(utils.SmallMap, 0, 4),
	}
}

// Bit values for the FLAG field of an Alignment.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

func (aln *Alignment) IsMultiple() bool      { return (aln.FLAG & Multiple) != 0 }
func (aln *Alignment) IsProper() bool        { return (aln.FLAG & Proper) != 0 }
func (aln *Alignment) IsUnmapped() bool      { return (aln.FLAG & Unmapped) != 0 }
func (aln *Alignment) IsNextUnmapped() bool  { return (aln.FLAG & NextUnmapped) != 0 }
func (aln *Alignment) IsReversed() bool      { return (aln.FLAG & Reversed) != 0 }
func (aln *Alignment) IsNextReversed() bool  { return (aln.FLAG & NextReversed) != 0 }
func (aln *Alignment) IsFirst() bool         { return (aln.FLAG & First) != 0 }
func (aln *Alignment) IsLast() bool          { return (aln.FLAG & Last) != 0 }
func (aln *Alignment) IsSecondary() bool     { return (aln.FLAG & Secondary) != 0 }
func (aln *Alignment) IsQCFailed() bool      { return (aln.FLAG & QCFailed) != 0 }
func (aln *Alignment) IsDuplicate() bool     { return (aln.FLAG & Duplicate) != 0 }
func (aln *Alignment) IsSupplementary() bool { return (aln.FLAG & Supplementary) != 0 }

// Sam represents the contents of a SAM file in memory.
type Sam struct {
	Header     *Header
	Alignments []*Alignment
	nofBatches int
}

// NewSam allocates and initializes an empty SAM file in memory.
func NewSam() *Sam { return &Sam{Header: NewHeader()} }

// CigarOperations contains all valid CIGAR operation characters,
// lower case versions included.
const CigarOperations = "MmIiDdNnSsHhPpXx="

var cigarOperationsTable = make(map[byte]byte, len(CigarOperations))

func init() {
	for _, c := range CigarOperations {
		cigarOperationsTable[byte(c)] = byte(unicode.ToUpper(rune(c)))
	}
}

func isDigit(char byte) bool { return ('0' <= char) && (char <= '9') }

// CigarOperation is a single CIGAR operation with its length.
type CigarOperation struct {
	Length    int32
	Operation byte // 'M', 'I', 'D', 'N', 'S', 'H', 'P', 'X', or '='
}

func newCigarOperation(cigar string, i int) (op CigarOperation, j int, err error) {
	for j = i; ; j++ {
		if char := cigar[j]; !isDigit(char) {
			length, nerr := strconv.ParseInt(cigar[i:j], 10, 32)
			if nerr != nil {
				err = nerr
				return
			}
			if operation := cigarOperationsTable[char]; operation != 0 {
				op = CigarOperation{int32(length), operation}
				j++
			} else {
				err = fmt.Errorf("invalid CIGAR operation %v", char)
			}
			return
		}
	}
}

var (
	cigarSliceCache      = map[string][]CigarOperation{"*": {}}
	cigarSliceCacheMutex = sync.RWMutex{}
)

func slowScanCigarString(cigar string) (slice []CigarOperation, err error) {
	for i := 0; i < len(cigar); {
		cigarOperation, j, err := newCigarOperation(cigar, i)
		if err != nil {
			return nil, fmt.Errorf("%v, while scanning CIGAR string %v", err, cigar)
		}
		slice = append(slice, cigarOperation)
		i = j
	}
	cigarSliceCacheMutex.Lock()
	if value, found := cigarSliceCache[cigar]; found {
		slice = value
	} else {
		cigarSliceCache[cigar] = slice
	}
	cigarSliceCacheMutex.Unlock()
	return slice, nil
}

// ScanCigarString converts a CIGAR string to a slice of
// CigarOperation. It uses an internal cache to avoid reallocating the
// same CIGAR string representations. It is safe for multiple
// goroutines to call ScanCigarString concurrently.
func ScanCigarString(cigar string) ([]CigarOperation, error) {
	cigarSliceCacheMutex.RLock()
	value, found := cigarSliceCache[cigar]
	cigarSliceCacheMutex.RUnlock()
	if found {
		return value, nil
	}
	return slowScanCigarString(cigar)
}
