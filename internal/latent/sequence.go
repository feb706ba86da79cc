package latent

import (
	"fmt"
	"regexp"
	"strings"
)

var alphabet = regexp.MustCompile(`^[AUTCGautcg]+$`)

// ValidateSequence checks that seq is non-empty and uses only the nucleotide
// alphabet accepted by the embedding service (A, U, T, C, G; any case).
func ValidateSequence(seq string) error {
	if seq == "" {
		return fmt.Errorf("%w: empty sequence", ErrValidation)
	}
	if !alphabet.MatchString(seq) {
		return fmt.Errorf("%w: sequence %q contains characters outside AUTCG", ErrValidation, seq)
	}
	return nil
}

// ValidateSequences validates every element and rejects an empty list.
func ValidateSequences(seqs []string) error {
	if len(seqs) == 0 {
		return fmt.Errorf("%w: empty sequence list", ErrValidation)
	}
	for i, s := range seqs {
		if err := ValidateSequence(s); err != nil {
			return fmt.Errorf("sequence %d: %w", i, err)
		}
	}
	return nil
}

// CleanDecoded strips the padding ("_") and unknown ("N") tokens the decoder
// emits so the result can be re-encoded.
func CleanDecoded(seq string) string {
	return strings.NewReplacer("_", "", "N", "").Replace(seq)
}
