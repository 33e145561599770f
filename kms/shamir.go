package kms

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// MinSeedLength is the shortest master seed accepted by LocalSigner.
const MinSeedLength = 32

// SplitSeed splits seed into n shares, any threshold of which reconstruct it.
func SplitSeed(seed []byte, n, threshold int) ([][]byte, error) {
	if len(seed) < MinSeedLength {
		return nil, fmt.Errorf("master seed must be at least %d bytes", MinSeedLength)
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if n < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	shares, err := shamir.Split(seed, n, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master seed: %w", err)
	}
	return shares, nil
}

// CombineShares reconstructs a master seed. With fewer shares than the split
// threshold the result is a different, wrong seed, so callers should check
// the derived signer address against a known value.
func CombineShares(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, errors.New("at least two shares are required")
	}

	seed, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct master seed: %w", err)
	}
	if len(seed) < MinSeedLength {
		wipeBytes(seed)
		return nil, fmt.Errorf("reconstructed seed is shorter than %d bytes", MinSeedLength)
	}
	return seed, nil
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
