package randomutil

import (
	"math/rand"
)

// RandomGenerator is the injectable randomness source behind model-group
// selection and skip sampling, so tests can drive deterministic outcomes.
type RandomGenerator interface {
	GenerateInt63() int64
	GenerateFloat64() float64
	GenerateIntn(n int) int
}

type RandomNumberGenerator struct{}

func (RandomNumberGenerator) GenerateInt63() int64 {
	return rand.Int63()
}

func (RandomNumberGenerator) GenerateFloat64() float64 {
	return rand.Float64()
}

func (RandomNumberGenerator) GenerateIntn(n int) int {
	return rand.Intn(n)
}
