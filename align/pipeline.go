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

package align

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/sam"
	"github.com/exascience/elthesaurus/utils"
)

// Header returns a SAM header describing the given genome, with one SQ
// line per contig in genome order.
func Header(genome fasta.Genome) *sam.Header {
	hdr := sam.NewHeader()
	hdr.HD = utils.StringMap{"VN": sam.FileFormatVersion, "SO": string(sam.Unsorted)}
	for _, contig := range genome.Contigs() {
		hdr.SQ = append(hdr.SQ, utils.StringMap{
			"SN": contig,
			"LN": strconv.Itoa(len(genome.Seq(contig))),
		})
	}
	hdr.PG = append(hdr.PG, utils.StringMap{
		"ID": utils.ProgramName,
		"PN": utils.ProgramName,
		"VN": utils.ProgramVersion,
	})
	return hdr
}

// PipelineOpts control one alignment pipeline run.
type PipelineOpts struct {
	MaxMismatches int // substitution budget per placement
	Workers       int // number of aligner goroutines
}

// PipelineStats report what one alignment pipeline run processed.
type PipelineStats struct {
	Reads   int64 // reads handed to the aligner workers
	Placed  int64 // reads with at least one placement
	Records int64 // alignment records handed to the sink
}

// RunPipeline streams all reads from the scanner through a pool of
// aligner workers placing them on the chromosome with the given name
// and index, and hands every resulting alignment record to sink. Reads
// travel over a bounded queue, as do the resulting records, so a slow
// sink throttles the scanner instead of accumulating records in
// memory. The sink is called from a single goroutine; placement order
// relative to read order is unspecified.
//
// RunPipeline returns once the read stream is exhausted and every
// worker and the sink have finished, or once ctx is canceled, in which
// case the workers and the sink wind down without processing the
// remaining reads. The returned error is the context error on
// cancellation, or the scanner error if the read stream ended on a
// malformed read.
func RunPipeline(ctx context.Context, index *EarIndex, chrom string, reads *fasta.ReadScanner, sink func([]*sam.Alignment), opts PipelineOpts) (PipelineStats, error) {
	aligner := NewAligner(index, chrom, opts.MaxMismatches)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan fasta.Read, 2*workers)
	results := make(chan []*sam.Alignment, 2*workers)

	var stats PipelineStats

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case read, ok := <-jobs:
					if !ok {
						return
					}
					alns := aligner.AlignRead(read)
					if len(alns) == 0 {
						continue
					}
					atomic.AddInt64(&stats.Placed, 1)
					atomic.AddInt64(&stats.Records, int64(len(alns)))
					select {
					case results <- alns:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	// The sink loop drains results unconditionally, so workers blocked
	// on the results queue always make progress once the sink catches
	// up, also during cancellation. The queue is closed only after all
	// workers have finished.
	var sinkWg sync.WaitGroup
	sinkWg.Add(1)
	go func() {
		defer sinkWg.Done()
		for alns := range results {
			sink(alns)
		}
	}()

feed:
	for reads.Scan() {
		read := reads.Read()
		select {
		case <-ctx.Done():
			break feed
		case jobs <- read:
			stats.Reads++
		}
	}

	close(jobs)
	wg.Wait()
	close(results)
	sinkWg.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, reads.Err()
}
