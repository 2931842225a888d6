package service

import "math/rand/v2"

// MemoGenerator returns a candidate memo. Collisions are resolved by the
// registry, so candidates need not be unique.
type MemoGenerator func() string

// NewMemoGenerator returns memos of letters uppercase letters followed by
// digits digits, e.g. AB1234.
func NewMemoGenerator(letters, digits int) MemoGenerator {
	return func() string {
		b := make([]byte, 0, letters+digits)
		for range letters {
			b = append(b, byte('A'+rand.IntN(26)))
		}
		for range digits {
			b = append(b, byte('0'+rand.IntN(10)))
		}
		return string(b)
	}
}
