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
	"errors"
	"fmt"
	"log"

	"github.com/exascience/pargo/pipeline"
)

type (
	// An AlignmentFilter receives an Alignment which it can modify. It
	// returns true if the alignment should be kept, and false if the
	// alignment should be removed.
	AlignmentFilter func(*Alignment) bool

	// A Filter receives a Header and returns an AlignmentFilter or nil.
	Filter func(*Header) AlignmentFilter

	// A PipelineOutput can add nodes to the given pargo
	// pipeline. AddNodes also receives a header that should be added to
	// the output, and a sortingOrder. AddNodes should arrange for the
	// alignments that it receives to be sorted according to that
	// sortingOrder if possible, or report an error if it can't perform
	// such a sort. Any error should be reported to the pipeline by
	// calling p.SetErr(err) with a non-nil error value.
	PipelineOutput interface {
		AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder)
	}

	// A PipelineInput arranges for a pargo pipeline to be properly
	// initialized, arranges for the pipeline to run the given filters,
	// calls output.AddNodes(...), and eventually runs the pipeline. If
	// RunPipeline doesn't encounter an error of its own, it should
	// return the error of its pargo pipeline, if any.
	PipelineInput interface {
		RunPipeline(output PipelineOutput, filters []Filter, sortingOrder SortingOrder) error
	}
)

const (
	minBatchSize = 4096
	maxBatchSize = 262144
)

// BytesToAlignment returns a pargo pipeline.Filter that parses slices
// of bytes representing alignment lines into slices of pointers to
// freshly allocated Alignment values.
//
// Malformed alignment lines are logged and dropped, and counted in
// the input file's Skipped counter. Only I/O errors terminate the
// pipeline.
func BytesToAlignment(reader *InputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			records := data.([][]byte)
			alns := make([]*Alignment, 0, len(records))
			for _, record := range records {
				aln, err := reader.ParseAlignment(record)
				if err != nil {
					reader.SkipRecord()
					log.Printf("skipping malformed alignment line in %v: %v", reader.name, err)
					continue
				}
				alns = append(alns, aln)
			}
			return alns
		}
		return
	}
}

// AlignmentToBytes returns a pargo pipeline.Filter that formats
// slices of Alignment pointers into slices of bytes representing
// these alignments according to the SAM file format.
func AlignmentToBytes(writer *OutputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			alns := data.([]*Alignment)
			records := make([][]byte, 0, len(alns))
			var buf []byte
			var err error
			for _, aln := range alns {
				buf, err = aln.Format(buf)
				if err != nil {
					p.SetErr(fmt.Errorf("%v in AlignmentToBytes", err))
					return records
				}
				records = append(records, append([]byte(nil), buf...))
				buf = buf[:0]
			}
			return records
		}
		return
	}
}

// AddNodes implements the PipelineOutput interface for Sam values to
// represent complete SAM files in memory.
func (sam *Sam) AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder) {
	sam.Header = header
	switch sortingOrder {
	case Keep, Unknown:
		p.Add(pipeline.StrictOrd(pipeline.Slice(&sam.Alignments)))
	case Unsorted:
		p.Add(pipeline.Seq(pipeline.Slice(&sam.Alignments)))
	default:
		p.SetErr(fmt.Errorf("unsupported sorting order %v for in-memory output", sortingOrder))
	}
}

// AddNodes implements the PipelineOutput interface for SAM
// OutputFile values.
func (f *OutputFile) AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder) {
	f.FormatHeader(header)
	var nodeCons func(...pipeline.Filter) pipeline.Node
	switch sortingOrder {
	case Keep, Unknown:
		nodeCons = pipeline.StrictOrd
	case Coordinate, Queryname:
		p.SetErr(errors.New("sorting on files not supported"))
		return
	case Unsorted:
		nodeCons = pipeline.Seq
	default:
		p.SetErr(fmt.Errorf("unknown sorting order %v", sortingOrder))
		return
	}
	p.Add(
		pipeline.LimitedPar(0, AlignmentToBytes(f)),
		nodeCons(pipeline.Receive(func(_ int, data interface{}) interface{} {
			var err error
			for _, aln := range data.([][]byte) {
				_, err = f.Write(aln)
			}
			if err != nil {
				p.SetErr(fmt.Errorf("%v, while writing SAM alignment strings to output", err))
			}
			return data
		})),
	)
}

// ComposeFilters takes a Header and a slice of Filter functions, and
// successively calls these functions to generate the corresponding
// AlignmentFilter predicates. It then returns a pargo
// pipeline.Receiver that applies these AlignmentFilter predicates on
// the slices of Alignment pointers it receives. ComposeFilters may
// return nil if all AlignmentFilters are nil.
func ComposeFilters(header *Header, hdrFilters []Filter) (receiver pipeline.Receiver) {
	var alnFilters []AlignmentFilter
	for _, f := range hdrFilters {
		if f != nil {
			if alnFilter := f(header); alnFilter != nil {
				alnFilters = append(alnFilters, alnFilter)
			}
		}
	}
	if len(alnFilters) > 0 {
		receiver = func(_ int, data interface{}) interface{} {
			alns := data.([]*Alignment)
			for i, aln := range alns {
				for _, alnFilter := range alnFilters {
					if !alnFilter(aln) {
						n := len(alns)
					jLoop:
						for j := i + 1; j < n; j++ {
							aln := alns[j]
							for _, alnFilter := range alnFilters {
								if !alnFilter(aln) {
									continue jLoop
								}
							}
							alns[i] = aln
							i++
						}
						return alns[0:i]
					}
				}
			}
			return alns
		}
	}
	return
}

// Determine the effective sorting order: Some filters may destroy the
// sorting order recorded in the input. If this happens, and the
// requested sorting order is Keep, then we need to effectively sort
// the result according to the original sorting order. The reverse is
// also true: If the requested sorting order is Coordinate or
// Queryname, and the current sorting order already fulfills it, then
// we can just return Keep to avoid any additional sorting.
func effectiveSortingOrder(sortingOrder SortingOrder, header *Header, originalSortingOrder SortingOrder) SortingOrder {
	if sortingOrder == Keep {
		sortingOrder = originalSortingOrder
	}
	currentSortingOrder := header.HDSO()
	switch sortingOrder {
	case Coordinate, Queryname:
		if currentSortingOrder == sortingOrder {
			return Keep
		}
		header.SetHDSO(sortingOrder)
	case Unknown, Unsorted:
		if currentSortingOrder != sortingOrder {
			header.SetHDSO(sortingOrder)
		}
	}
	return sortingOrder
}

// NofBatches sets the number of batches that are created from this
// Sam value for the next call of RunPipeline.
//
// NofBatches can be called safely by user programs before RunPipeline
// is called.
//
// If user programs do not call NofBatches, or call it with a value
// < 1, then the pipeline will choose a reasonable default value that
// takes runtime.GOMAXPROCS(0) into account.
func (sam *Sam) NofBatches(n int) {
	sam.nofBatches = n
}

// RunPipeline implements the PipelineInput interface for Sam values
// that represent complete SAM files in memory.
func (sam *Sam) RunPipeline(output PipelineOutput, hdrFilters []Filter, sortingOrder SortingOrder) error {
	header := sam.Header
	alns := sam.Alignments
	sam.Header = NewHeader()
	sam.Alignments = nil
	originalSortingOrder := header.HDSO()
	alnFilter := ComposeFilters(header, hdrFilters)
	sortingOrder = effectiveSortingOrder(sortingOrder, header, originalSortingOrder)
	var p pipeline.Pipeline
	p.Source(alns)
	alns = nil
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header, sortingOrder)
	p.NofBatches(sam.nofBatches)
	sam.nofBatches = 0
	p.Run()
	return p.Err()
}

// RunPipeline implements the PipelineInput interface for SAM
// InputFile values.
func (f *InputFile) RunPipeline(output PipelineOutput, hdrFilters []Filter, sortingOrder SortingOrder) error {
	header := f.ParseHeader()
	originalSortingOrder := header.HDSO()
	alnFilter := ComposeFilters(header, hdrFilters)
	sortingOrder = effectiveSortingOrder(sortingOrder, header, originalSortingOrder)
	var p pipeline.Pipeline
	p.Source(f)
	p.SetVariableBatchSize(minBatchSize, maxBatchSize)
	p.Add(pipeline.LimitedPar(0, BytesToAlignment(f)))
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header, sortingOrder)
	p.Run()
	return p.Err()
}
