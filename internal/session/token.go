package session

import (
	"math/rand/v2"
	"strconv"
)

// NewToken returns a 4-digit verification token drawn uniformly from
// [1000, 9999]. Consecutive tokens may repeat; the misverification risk of
// a collision is bounded by the rotation window.
func NewToken() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}
