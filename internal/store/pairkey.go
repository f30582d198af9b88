package store

import (
	"fmt"
	"strings"
)

const pairKeySeparator = ":"

// OrderedPair returns a and b in lexicographic order.
func OrderedPair(a, b string) (lo, hi string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey canonicalizes an unordered pair of participants into
// "dm:{min}:{max}". PairKey(a, b) == PairKey(b, a) for all valid inputs.
func PairKey(a, b string) (string, error) {
	if err := validateParticipant(a); err != nil {
		return "", err
	}
	if err := validateParticipant(b); err != nil {
		return "", err
	}
	if a == b {
		return "", fmt.Errorf("%w: conversation with self", ErrInvalidArgument)
	}

	lo, hi := OrderedPair(a, b)
	return "dm" + pairKeySeparator + lo + pairKeySeparator + hi, nil
}

func validateParticipant(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty participant id", ErrInvalidArgument)
	}
	if strings.Contains(id, pairKeySeparator) {
		return fmt.Errorf("%w: participant id %q contains %q", ErrInvalidArgument, id, pairKeySeparator)
	}
	return nil
}
