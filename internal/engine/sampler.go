package engine

import (
	"cmp"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
)

// token pairs a vocabulary id with its score during sampling.
type token struct {
	id    int32
	value float32
}

// Sampler selects the next token from a model's raw next-token scores using
// temperature scaling and top-p truncation. One Sampler serves one
// generation session; it is not safe for concurrent use.
type Sampler struct {
	rng         *rand.Rand
	temperature float32
	topP        float32
}

// NewSampler builds a seeded sampler. Callers validate temperature (> 0)
// and topP ((0,1]) beforehand; the same seed always yields the same draws.
func NewSampler(temperature, topP float64, seed uint64) *Sampler {
	// PCG takes sequence and stream seeds; the golden-ratio hash makes the
	// stream statistically independent of the sequence.
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B9))
	return &Sampler{
		rng:         rng,
		temperature: float32(temperature),
		topP:        float32(topP),
	}
}

// Sample picks one token id from logits. The slice index is the token id.
func (s *Sampler) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return -1, errors.New("sample: no logits provided")
	}

	tokens := make([]token, len(logits))
	for i := range logits {
		tokens[i] = token{id: int32(i), value: logits[i]}
	}

	// Scale by temperature, subtracting the max logit to avoid overflow in
	// the exponent.
	maxLogit := tokens[0].value
	for _, t := range tokens[1:] {
		if t.value > maxLogit {
			maxLogit = t.value
		}
	}
	for i := range tokens {
		tokens[i].value = (tokens[i].value - maxLogit) / s.temperature
	}

	softmax(tokens)

	slices.SortFunc(tokens, func(a, b token) int {
		return cmp.Compare(b.value, a.value)
	})
	tokens = topP(tokens, s.topP)

	// Cumulative sum over the kept tokens, then binary search for the draw.
	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		tokens[i].value = sum
	}
	if math.IsNaN(float64(sum)) {
		return -1, errors.New("sample: probabilities sum to NaN, check model output")
	}
	r := s.rng.Float32() * sum

	idx, _ := slices.BinarySearchFunc(tokens, r, func(t token, target float32) int {
		if t.value < target {
			return -1
		}
		return 1
	})
	if idx >= len(tokens) {
		idx = len(tokens) - 1
	}
	return tokens[idx].id, nil
}

func softmax(tokens []token) {
	var sum float32
	for i := range tokens {
		tokens[i].value = float32(math.Exp(float64(tokens[i].value)))
		sum += tokens[i].value
	}
	for i := range tokens {
		tokens[i].value /= sum
	}
}

// topP keeps the smallest prefix of the descending-sorted tokens whose
// cumulative probability exceeds p. p == 1 keeps everything.
func topP(tokens []token, p float32) []token {
	if p >= 1 {
		return tokens
	}
	var sum float32
	for i := range tokens {
		sum += tokens[i].value
		if sum > p {
			return tokens[:i+1]
		}
	}
	return tokens
}
