package sam

func operatorConsumesReadBases(operator byte) bool {
	switch operator {
	case 'M', 'I', 'S', '=', 'X':
		return true
	default:
		return false
	}
}

func operatorConsumesReferenceBases(operator byte) bool {
	switch operator {
	case 'M', 'D', 'N', '=', 'X':
		return true
	default:
		return false
	}
}

// ReadLength sums the lengths of all CIGAR operations that consume
// read bases.
func ReadLength(cigars []CigarOperation) int32 {
	var length int32
	for _, op := range cigars {
		if operatorConsumesReadBases(op.Operation) {
			length += op.Length
		}
	}
	return length
}

// ReferenceLength sums the lengths of all CIGAR operations that
// consume reference bases.
func ReferenceLength(cigars []CigarOperation) int32 {
	var length int32
	for _, op := range cigars {
		if operatorConsumesReferenceBases(op.Operation) {
			length += op.Length
		}
	}
	return length
}

// IsSingleMatchBlock determines whether the CIGAR describes a single
// contiguous match block covering a read of the given length, without
// insertions, deletions, clipping, or skips.
func IsSingleMatchBlock(cigars []CigarOperation, readLength int32) bool {
	if len(cigars) != 1 {
		return false
	}
	op := cigars[0]
	return (op.Operation == 'M') && (op.Length == readLength)
}
