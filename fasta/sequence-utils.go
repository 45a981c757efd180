package fasta

var complementTable [256]byte

func init() {
	for i := range complementTable {
		complementTable[i] = 'N'
	}
	complementTable['A'] = 'T'
	complementTable['T'] = 'A'
	complementTable['C'] = 'G'
	complementTable['G'] = 'C'
}

// Complement returns the Watson-Crick complement of the given
// normalized base. Ambiguous bases complement to N.
func Complement(base byte) byte {
	return complementTable[base]
}

// ReverseComplement returns a freshly allocated reverse complement of
// the given normalized sequence.
func ReverseComplement(seq []byte) []byte {
	result := make([]byte, len(seq))
	for i, c := range seq {
		result[len(seq)-1-i] = complementTable[c]
	}
	return result
}
