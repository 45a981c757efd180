package sam

/*
A filter for removing unmapped sam-alignment instances, based on FLAG.
*/
func FilterUnmappedReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool { return (aln.FLAG & Unmapped) == 0 }
}

/*
A filter for removing unmapped sam-alignment instances, based on FLAG,
or POS=0, or RNAME=*.
*/
func FilterUnmappedReadsStrict(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool {
		return ((aln.FLAG & Unmapped) == 0) && (aln.POS != 0) && (aln.RNAME != "*")
	}
}

/*
A filter for removing secondary and supplementary sam-alignment
instances, based on FLAG.
*/
func FilterNonPrimaryReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool { return (aln.FLAG & (Secondary | Supplementary)) == 0 }
}

/*
A filter for removing duplicate sam-alignment instances, based on
FLAG.
*/
func FilterDuplicateReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool { return (aln.FLAG & Duplicate) == 0 }
}

/*
A filter for removing sam-alignment instances that did not pass
quality controls, based on FLAG.
*/
func FilterQCFailedReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool { return (aln.FLAG & QCFailed) == 0 }
}

/*
A filter for removing sam-alignment instances whose mapping quality is
below the given threshold. A threshold of 0 keeps everything.
*/
func FilterMappingQuality(minMapQ int) Filter {
	if minMapQ <= 0 {
		return nil
	}
	return func(_ *Header) AlignmentFilter {
		return func(aln *Alignment) bool { return int(aln.MAPQ) >= minMapQ }
	}
}
