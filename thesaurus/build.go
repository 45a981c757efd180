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

package thesaurus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/internal"
	"github.com/exascience/elthesaurus/sam"
	"github.com/exascience/pargo/parallel"
	"github.com/exascience/pargo/pipeline"
	psort "github.com/exascience/pargo/sort"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Opts control a thesaurus construction run.
type Opts struct {
	// Genome is the reference genome path recorded in the table
	// metadata.
	Genome string
	// ReadLength is the length of the reads the input alignments were
	// generated from.
	ReadLength int
	// MaxMismatches is the mismatch budget the input alignments were
	// produced with, recorded in the table metadata.
	MaxMismatches int
	// MaxPenalty caps the number of substitutions per raw entry in
	// Pass 1.
	MaxPenalty int
	// MinMapQ discards alignment records below this mapping quality;
	// 0 disables the filter.
	MinMapQ int
	// BucketSpacing is the genomic width of the Pass 2 sort buckets.
	BucketSpacing int32
	// Workers is the number of concurrent bucket distributors.
	Workers int
	// MaxExtendRun limits consecutive anchors at an interval edge
	// during boundary extension.
	MaxExtendRun int
	// WorkPath is the directory for intermediate files. When empty, a
	// unique directory is created and removed again at the end of the
	// run.
	WorkPath string
	// SkipPass1 reuses the raw entry files of a previous run in
	// WorkPath instead of converting alignment records again.
	SkipPass1 bool
	// SkipPass2 stops after writing the raw entry files, leaving them
	// in WorkPath.
	SkipPass2 bool
}

// ErrorRate returns the substitution rate budget used during boundary
// extension, derived from the per-read parameters.
func (opts *Opts) ErrorRate() float64 {
	return float64(opts.MaxPenalty) / float64(opts.ReadLength)
}

// BuilderStats count what Pass 1 processed, accumulated over all
// input files.
type BuilderStats struct {
	Records    int64 // alignment records that passed the record filters
	Malformed  int64 // records skipped because they could not be interpreted
	Filtered   int64 // records discarded because they are not a single match block
	Trivial    int64 // records and entries discarded as self links
	OverBudget int64 // records discarded for exceeding the penalty cap
	Entries    int64 // raw entries written
}

// A Builder constructs a thesaurus table from streams of alignment
// records in two passes. Pass 1 converts records to raw per-chromosome
// entry files; Pass 2 buckets, sorts, merges, and extends the raw
// entries and writes the final table.
type Builder struct {
	opts     Opts
	genome   fasta.Genome
	rank     map[string]int
	workPath string
	stats    BuilderStats
}

// NewBuilder returns a builder for the given genome. The genome must
// stay open for the duration of the run.
func NewBuilder(genome fasta.Genome, opts Opts) *Builder {
	if opts.ReadLength < 1 {
		log.Panicf("invalid read length %v", opts.ReadLength)
	}
	if opts.MaxPenalty < 0 {
		log.Panicf("invalid penalty cap %v", opts.MaxPenalty)
	}
	if opts.BucketSpacing < 1 {
		opts.BucketSpacing = 1000000
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.MaxExtendRun < 1 {
		opts.MaxExtendRun = 4
	}
	if opts.SkipPass1 && opts.WorkPath == "" {
		log.Panic("skipping pass 1 requires a work path with raw entry files")
	}
	workPath := opts.WorkPath
	if workPath == "" {
		workPath = filepath.Join(os.TempDir(), "elthesaurus-"+uuid.New().String())
	}
	rank := make(map[string]int)
	for i, chrom := range genome.Contigs() {
		rank[chrom] = i
	}
	return &Builder{
		opts:     opts,
		genome:   genome,
		rank:     rank,
		workPath: workPath,
	}
}

// Stats returns the Pass 1 record counts. Call it after Run has
// returned.
func (b *Builder) Stats() BuilderStats {
	return b.stats
}

// Run builds the thesaurus table at outputPath from the given
// alignment record files, honoring the skip controls in the builder
// options.
func (b *Builder) Run(ctx context.Context, samFiles []string, outputPath string) error {
	if b.opts.SkipPass1 {
		log.Printf("pass 1 skipped, reusing raw entry files in %v", b.workPath)
	} else {
		log.Println("pass 1: converting alignment records to raw entries")
		if err := b.pass1(ctx, samFiles); err != nil {
			return err
		}
		stats := b.stats
		log.Printf("pass 1 done: %v records, %v entries, %v malformed, %v filtered, %v trivial, %v over budget",
			stats.Records, stats.Entries, stats.Malformed, stats.Filtered, stats.Trivial, stats.OverBudget)
	}
	if b.opts.SkipPass2 {
		log.Printf("pass 2 skipped, raw entry files left in %v", b.workPath)
		return nil
	}
	log.Println("pass 2: sorting, merging, and extending entries")
	if err := b.pass2(ctx, outputPath); err != nil {
		return err
	}
	if b.opts.WorkPath == "" {
		internal.RemoveAll(b.workPath)
	}
	return nil
}

func (b *Builder) rawPath(chrom string) string {
	return filepath.Join(b.workPath, chrom+".entries.gz")
}

func (b *Builder) bucketPath(chrom string, bucket int) string {
	return filepath.Join(b.workPath, chrom+".bucket-"+strconv.Itoa(bucket)+".gz")
}

// A rawFile is a gzip-compressed intermediate entry file shared by
// multiple writers.
type rawFile struct {
	mutex  sync.Mutex
	file   *os.File
	wc     *gzip.Writer
	writer *bufio.Writer
	used   bool
}

func createRawFile(name string) *rawFile {
	file := internal.FileCreate(name)
	wc := gzip.NewWriter(file)
	return &rawFile{
		file:   file,
		wc:     wc,
		writer: bufio.NewWriter(wc),
	}
}

func (raw *rawFile) write(chunk []byte) {
	raw.mutex.Lock()
	defer raw.mutex.Unlock()
	internal.Write(raw.writer, chunk)
	raw.used = true
}

func (raw *rawFile) close() {
	if err := raw.writer.Flush(); err != nil {
		log.Panic(err)
	}
	internal.Close(raw.wc)
	internal.Close(raw.file)
}

func (b *Builder) pass1(ctx context.Context, samFiles []string) error {
	if len(samFiles) == 0 {
		log.Panic("no alignment record files to process")
	}
	internal.MkdirAll(b.workPath, 0700)
	raws := make(map[string]*rawFile)
	for _, chrom := range b.genome.Contigs() {
		raws[chrom] = createRawFile(b.rawPath(chrom))
	}
	errs := make([]error, len(samFiles))
	parallel.Range(0, len(samFiles), len(samFiles), func(low, high int) {
		for i := low; i < high; i++ {
			if ctx.Err() != nil {
				return
			}
			log.Printf("pass 1: processing %v", samFiles[i])
			errs[i] = b.pass1File(samFiles[i], raws)
		}
	})
	for _, raw := range raws {
		raw.close()
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (b *Builder) pass1File(name string, raws map[string]*rawFile) error {
	input := sam.Open(name)
	defer input.Close()
	filters := []sam.Filter{
		sam.FilterUnmappedReads,
		sam.FilterNonPrimaryReads,
		sam.FilterDuplicateReads,
		sam.FilterQCFailedReads,
		sam.FilterMappingQuality(b.opts.MinMapQ),
	}
	err := input.RunPipeline(&rawOutput{builder: b, raws: raws}, filters, sam.Keep)
	atomic.AddInt64(&b.stats.Malformed, input.Skipped())
	if err != nil {
		return fmt.Errorf("%v while processing %v", err, name)
	}
	return nil
}

// rawOutput converts filtered alignment records to raw entries and
// routes them to the per-chromosome entry files.
type rawOutput struct {
	builder *Builder
	raws    map[string]*rawFile
}

// AddNodes implements the sam.PipelineOutput interface.
func (out *rawOutput) AddNodes(p *pipeline.Pipeline, header *sam.Header, _ sam.SortingOrder) {
	b := out.builder
	p.Add(
		pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
			alns := data.([]*sam.Alignment)
			atomic.AddInt64(&b.stats.Records, int64(len(alns)))
			chunks := make(map[string][]byte)
			for _, aln := range alns {
				if entry := b.entryFromAlignment(aln); entry != nil {
					chunks[entry.AlignChrom] = append(FormatEntry(chunks[entry.AlignChrom], entry), '\n')
					atomic.AddInt64(&b.stats.Entries, 1)
				}
			}
			return chunks
		})),
		pipeline.Seq(pipeline.Receive(func(_ int, data interface{}) interface{} {
			for chrom, chunk := range data.(map[string][]byte) {
				out.raws[chrom].write(chunk)
			}
			return data
		})),
	)
}

// ParseReadOrigin parses a read name of the form chrom:start-end, the
// origin interval encoding produced by generate-reads. Coordinates are
// 1-based and inclusive.
func ParseReadOrigin(name string) (chrom string, start, end int32, err error) {
	i := strings.LastIndexByte(name, ':')
	if i < 1 {
		return "", 0, 0, fmt.Errorf("read name %v does not encode an origin interval", name)
	}
	rest := name[i+1:]
	j := strings.IndexByte(rest, '-')
	if j < 0 {
		return "", 0, 0, fmt.Errorf("read name %v does not encode an origin interval", name)
	}
	if start, err = parseCoordinate(rest[:j]); err != nil {
		return "", 0, 0, fmt.Errorf("%v in read name %v", err, name)
	}
	if end, err = parseCoordinate(rest[j+1:]); err != nil {
		return "", 0, 0, fmt.Errorf("%v in read name %v", err, name)
	}
	if end < start {
		return "", 0, 0, fmt.Errorf("reversed origin interval in read name %v", name)
	}
	return name[:i], start, end, nil
}

// entryFromAlignment turns one alignment record into a raw entry, or
// returns nil if the record is to be discarded. Records that cannot be
// interpreted are logged and skipped.
func (b *Builder) entryFromAlignment(aln *sam.Alignment) *Entry {
	cigars, err := sam.ScanCigarString(aln.CIGAR)
	if err != nil {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record %v: %v", aln.QNAME, err)
		return nil
	}
	readLength := int32(len(aln.SEQ))
	if readLength == 0 || !sam.IsSingleMatchBlock(cigars, readLength) {
		atomic.AddInt64(&b.stats.Filtered, 1)
		return nil
	}
	originChrom, originStart, originEnd, err := ParseReadOrigin(aln.QNAME)
	if err != nil {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record: %v", err)
		return nil
	}
	if originEnd-originStart+1 != readLength {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record %v: origin interval does not match the read length", aln.QNAME)
		return nil
	}
	alignChrom := aln.RNAME
	alignSeq := b.genome.Seq(alignChrom)
	if len(alignSeq) == 0 {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record %v: chromosome %v not in the reference genome", aln.QNAME, alignChrom)
		return nil
	}
	originSeq := b.genome.Seq(originChrom)
	if len(originSeq) == 0 {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record %v: chromosome %v not in the reference genome", aln.QNAME, originChrom)
		return nil
	}
	alignStart := aln.POS
	alignEnd := alignStart + readLength - 1
	if alignStart < 1 || alignEnd > int32(len(alignSeq)) || originEnd > int32(len(originSeq)) {
		atomic.AddInt64(&b.stats.Malformed, 1)
		log.Printf("skipping alignment record %v: alignment does not fit the reference genome", aln.QNAME)
		return nil
	}
	strand := byte('+')
	if aln.IsReversed() {
		strand = '-'
	}
	if strand == '+' && alignChrom == originChrom && alignStart == originStart {
		atomic.AddInt64(&b.stats.Trivial, 1)
		return nil
	}
	if nm, ok := aln.EditDistance(); ok && int(nm) > b.opts.MaxPenalty {
		atomic.AddInt64(&b.stats.OverBudget, 1)
		return nil
	}
	var anchors []Anchor
	for k := int32(0); k < readLength; k++ {
		readBase := aln.SEQ[k]
		a := alignStart + k
		alignRef := alignSeq[a-1]
		if readBase == alignRef {
			continue
		}
		if len(anchors) == b.opts.MaxPenalty {
			atomic.AddInt64(&b.stats.OverBudget, 1)
			return nil
		}
		var o int32
		if strand == '+' {
			o = originStart + k
		} else {
			o = originEnd - k
		}
		originAlt := alignRef
		if strand == '-' {
			originAlt = fasta.Complement(alignRef)
		}
		anchors = append(anchors, Anchor{
			AlignPos:  a,
			OriginPos: o,
			AlignRef:  alignRef,
			AlignAlt:  readBase,
			OriginRef: originSeq[o-1],
			OriginAlt: originAlt,
		})
	}
	entry := &Entry{
		AlignChrom:  alignChrom,
		AlignStart:  alignStart,
		AlignEnd:    alignEnd,
		OriginChrom: originChrom,
		OriginStart: originStart,
		OriginEnd:   originEnd,
		Strand:      strand,
		Anchors:     anchors,
	}
	entry.Orient(b.rank)
	if entry.IsTrivial() {
		atomic.AddInt64(&b.stats.Trivial, 1)
		return nil
	}
	return entry
}

func (b *Builder) pass2(ctx context.Context, outputPath string) error {
	output := Create(outputPath, Meta{
		Genome:        b.opts.Genome,
		ReadLength:    b.opts.ReadLength,
		MaxMismatches: b.opts.MaxMismatches,
		MaxPenalty:    b.opts.MaxPenalty,
	})
	defer output.Close()
	errorRate := b.opts.ErrorRate()
	for _, chrom := range b.genome.Contigs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.pass2Chrom(ctx, chrom, errorRate, output); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) pass2Chrom(ctx context.Context, chrom string, errorRate float64, output *Writer) error {
	file, found := internal.FileOpenIfExists(b.rawPath(chrom))
	if !found {
		return nil
	}
	spacing := b.opts.BucketSpacing
	bucketCount := int((int32(len(b.genome.Seq(chrom))) + spacing - 1) / spacing)
	if bucketCount < 1 {
		bucketCount = 1
	}
	occupancy, err := b.distribute(ctx, chrom, file, bucketCount)
	defer func() {
		for i := 0; i < bucketCount; i++ {
			internal.RemoveAll(b.bucketPath(chrom, i))
		}
	}()
	if err != nil {
		return err
	}
	total := 0
	for i, ok := occupancy.NextSet(0); ok; i, ok = occupancy.NextSet(i + 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		entries := b.loadBucket(b.bucketPath(chrom, int(i)))
		entries = b.mergeBucket(entries, errorRate, int32(i)*spacing+1)
		for _, entry := range entries {
			output.Write(entry)
		}
		total += len(entries)
	}
	log.Printf("chromosome %v: %v entries", chrom, total)
	return nil
}

// distribute streams the raw entry file of a chromosome and routes
// every line to one of the bucket files by its align start coordinate,
// using several concurrent distributor workers. It returns the set of
// buckets that received entries.
func (b *Builder) distribute(ctx context.Context, chrom string, file *os.File, bucketCount int) (*bitset.BitSet, error) {
	rc, err := gzip.NewReader(file)
	if err != nil {
		log.Panicf("%v in raw entry file for %v", err, chrom)
	}
	buckets := make([]*rawFile, bucketCount)
	for i := range buckets {
		buckets[i] = createRawFile(b.bucketPath(chrom, i))
	}
	spacing := b.opts.BucketSpacing
	jobs := make(chan []string, 2*b.opts.Workers)
	var wg sync.WaitGroup
	wg.Add(b.opts.Workers)
	for w := 0; w < b.opts.Workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case lines, ok := <-jobs:
					if !ok {
						return
					}
					for _, line := range lines {
						start, err := AlignStartOf(line)
						if err != nil {
							log.Panicf("%v in raw entry file for %v", err, chrom)
						}
						i := int((start - 1) / spacing)
						if i < 0 || i >= bucketCount {
							log.Panicf("entry start %v out of range in raw entry file for %v", start, chrom)
						}
						buckets[i].write(append([]byte(line), '\n'))
					}
				}
			}
		}()
	}
	const batchSize = 1024
	reader := bufio.NewReader(rc)
	batch := make([]string, 0, batchSize)
feed:
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSuffix(line, "\n"); line != "" {
			batch = append(batch, line)
		}
		if len(batch) == batchSize || (err == io.EOF && len(batch) > 0) {
			select {
			case <-ctx.Done():
				break feed
			case jobs <- batch:
				batch = make([]string, 0, batchSize)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Panic(err)
		}
	}
	close(jobs)
	wg.Wait()
	internal.Close(rc)
	internal.Close(file)
	occupancy := bitset.New(uint(bucketCount))
	for i, bucket := range buckets {
		bucket.close()
		if bucket.used {
			occupancy.Set(uint(i))
		}
	}
	return occupancy, ctx.Err()
}

// loadBucket fully parses one bucket file. The raw files are written
// by the builder itself, so a line that does not parse means the
// intermediate files are corrupt, which aborts the run.
func (b *Builder) loadBucket(name string) []*Entry {
	file := internal.FileOpen(name)
	defer internal.Close(file)
	rc, err := gzip.NewReader(file)
	if err != nil {
		log.Panicf("%v in bucket file %v", err, name)
	}
	defer internal.Close(rc)
	reader := bufio.NewReader(rc)
	var entries []*Entry
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSuffix(line, "\n"); line != "" {
			entry, perr := ParseEntry(line)
			if perr != nil {
				log.Panicf("%v in bucket file %v", perr, name)
			}
			b.validateEntry(entry, name)
			entries = append(entries, entry)
		}
		if err == io.EOF {
			return entries
		}
		if err != nil {
			log.Panic(err)
		}
	}
}

func (b *Builder) validateEntry(entry *Entry, name string) {
	alignSeq := b.genome.Seq(entry.AlignChrom)
	originSeq := b.genome.Seq(entry.OriginChrom)
	if len(alignSeq) == 0 || len(originSeq) == 0 ||
		entry.AlignEnd > int32(len(alignSeq)) || entry.OriginEnd > int32(len(originSeq)) {
		log.Panicf("entry %v:%v-%v does not fit the reference genome in %v",
			entry.AlignChrom, entry.AlignStart, entry.AlignEnd, name)
	}
}

func alignLess(entry1, entry2 *Entry) bool {
	if entry1.AlignStart != entry2.AlignStart {
		return entry1.AlignStart < entry2.AlignStart
	}
	if entry1.AlignEnd != entry2.AlignEnd {
		return entry1.AlignEnd < entry2.AlignEnd
	}
	if entry1.OriginChrom != entry2.OriginChrom {
		return entry1.OriginChrom < entry2.OriginChrom
	}
	if entry1.OriginStart != entry2.OriginStart {
		return entry1.OriginStart < entry2.OriginStart
	}
	return entry1.Strand < entry2.Strand
}

func offsetLess(entry1, entry2 *Entry) bool {
	if entry1.Strand != entry2.Strand {
		return entry1.Strand < entry2.Strand
	}
	if entry1.OriginChrom != entry2.OriginChrom {
		return entry1.OriginChrom < entry2.OriginChrom
	}
	if phase1, phase2 := entry1.phase(), entry2.phase(); phase1 != phase2 {
		return phase1 < phase2
	}
	return entry1.AlignStart < entry2.AlignStart
}

type entrySorter struct {
	entries []*Entry
	less    func(entry1, entry2 *Entry) bool
}

func (s entrySorter) SequentialSort(i, j int) {
	entries, less := s.entries[i:j], s.less
	sort.SliceStable(entries, func(x, y int) bool {
		return less(entries[x], entries[y])
	})
}

func (s entrySorter) NewTemp() psort.StableSorter {
	return entrySorter{entries: make([]*Entry, len(s.entries)), less: s.less}
}

func (s entrySorter) Len() int {
	return len(s.entries)
}

func (s entrySorter) Less(i, j int) bool {
	return s.less(s.entries[i], s.entries[j])
}

func (s entrySorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s.entries, source.(entrySorter).entries
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

func sortEntries(entries []*Entry, less func(entry1, entry2 *Entry) bool) {
	psort.StableSort(entrySorter{entries: entries, less: less})
}

func (b *Builder) extendEntry(entry *Entry, errorRate float64, minAlignStart int32) {
	entry.ExtendLeft(b.genome, errorRate, b.opts.MaxExtendRun, minAlignStart)
	entry.ExtendRight(b.genome, errorRate, b.opts.MaxExtendRun)
}

// mergeSweep walks the entries in their current order and merges every
// entry into the running last entry where possible. Both entries are
// extended before each merge attempt to maximize overlap detection.
func (b *Builder) mergeSweep(entries []*Entry, errorRate float64, minAlignStart int32) []*Entry {
	if len(entries) < 2 {
		return entries
	}
	dead := bitset.New(uint(len(entries)))
	last := entries[0]
	b.extendEntry(last, errorRate, minAlignStart)
	for i := 1; i < len(entries); i++ {
		entry := entries[i]
		b.extendEntry(entry, errorRate, minAlignStart)
		if last.MergeWith(entry) {
			dead.Set(uint(i))
		} else {
			last = entry
		}
	}
	if dead.None() {
		return entries
	}
	survivors := entries[:0]
	for i, entry := range entries {
		if !dead.Test(uint(i)) {
			survivors = append(survivors, entry)
		}
	}
	return survivors
}

// mergeBucket alternates merge sweeps in phase order and in align
// position order until the entry count stops changing. Merging widens
// interval bounds, which can expose merge opportunities hidden from
// either sort order alone.
func (b *Builder) mergeBucket(entries []*Entry, errorRate float64, minAlignStart int32) []*Entry {
	if len(entries) == 0 {
		return entries
	}
	for {
		before := len(entries)
		sortEntries(entries, offsetLess)
		entries = b.mergeSweep(entries, errorRate, minAlignStart)
		sortEntries(entries, alignLess)
		entries = b.mergeSweep(entries, errorRate, minAlignStart)
		if len(entries) == before {
			break
		}
	}
	sortEntries(entries, alignLess)
	return entries
}
