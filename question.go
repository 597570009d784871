package quizhub

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Difficulty selects an operand range and operator set for generated questions.
type Difficulty string

// Supported difficulty levels.
const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Operator is an arithmetic operator usable in a generated question.
type Operator string

// Supported operators.
const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
)

// answerTolerance is the maximum distance between a parsed submission and the
// canonical answer for the submission to count as correct.
const answerTolerance = 1e-4

// multiplyOperandCap bounds multiplication operands so products stay
// mentally computable regardless of the configured operand range.
const multiplyOperandCap = 20

// Question is an immutable arithmetic problem. Produced by Generator.Generate
// and consumed read-only everywhere else.
type Question struct {
	CreatedAt  time.Time
	ID         string
	Text       string
	Difficulty Difficulty
	Answer     int
}

// DifficultyConfig describes how questions are generated for one difficulty
// level: the inclusive operand range and the set of operators to draw from.
type DifficultyConfig struct {
	Operators  []Operator
	MinOperand int
	MaxOperand int
}

// defaultDifficultyConfigs returns the built-in generation table.
func defaultDifficultyConfigs() map[Difficulty]DifficultyConfig {
	return map[Difficulty]DifficultyConfig{
		Easy:   {MinOperand: 1, MaxOperand: 50, Operators: []Operator{OpAdd, OpSub}},
		Medium: {MinOperand: 1, MaxOperand: 100, Operators: []Operator{OpAdd, OpSub, OpMul}},
		Hard:   {MinOperand: 10, MaxOperand: 100, Operators: []Operator{OpAdd, OpSub, OpMul}},
	}
}

// Generator produces arithmetic questions and validates raw answers against
// canonical ones. Generation draws operands uniformly from the difficulty's
// configured range; validation is a pure function of its inputs.
//
// Key behaviors:
//   - Subtraction operands are ordered so the answer is never negative
//   - Multiplication operands are redrawn from [min, min(max, 20)] to bound
//     the product
//   - Question IDs never repeat within a process run
//   - Validation trims whitespace, accepts string or numeric input, and
//     compares within a 1e-4 tolerance
//
// Generator is safe for concurrent use.
type Generator struct {
	clock   clockz.Clock
	configs map[Difficulty]DifficultyConfig
	seq     atomic.Uint64
	mu      sync.RWMutex
}

// NewGenerator creates a Generator with the default difficulty table.
func NewGenerator() *Generator {
	return &Generator{
		configs: defaultDifficultyConfigs(),
	}
}

// WithClock sets a custom clock for question creation timestamps.
func (g *Generator) WithClock(clock clockz.Clock) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clock = clock
	return g
}

// SetDifficultyConfig replaces the generation config for one difficulty.
func (g *Generator) SetDifficultyConfig(d Difficulty, cfg DifficultyConfig) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configs[d] = cfg
	return g
}

// DifficultyConfig returns the generation config for the given difficulty and
// whether one is registered.
func (g *Generator) DifficultyConfig(d Difficulty) (DifficultyConfig, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cfg, ok := g.configs[d]
	return cfg, ok
}

// getClock returns the clock to use.
func (g *Generator) getClock() clockz.Clock {
	if g.clock == nil {
		return clockz.RealClock
	}
	return g.clock
}

// Generate produces a new question for the given difficulty. Unknown
// difficulties fall back to Medium. The returned question's ID is unique
// within the process lifetime.
func (g *Generator) Generate(d Difficulty) Question {
	g.mu.RLock()
	cfg, ok := g.configs[d]
	if !ok {
		d = Medium
		cfg = g.configs[Medium]
	}
	g.mu.RUnlock()

	op := cfg.Operators[rand.IntN(len(cfg.Operators))]
	a := randOperand(cfg.MinOperand, cfg.MaxOperand)
	b := randOperand(cfg.MinOperand, cfg.MaxOperand)

	switch op {
	case OpMul:
		// Redraw both operands with a capped upper bound so the product
		// stays within mental-arithmetic territory.
		hi := cfg.MaxOperand
		if hi > multiplyOperandCap {
			hi = multiplyOperandCap
		}
		a = randOperand(cfg.MinOperand, hi)
		b = randOperand(cfg.MinOperand, hi)
	case OpSub:
		// Order operands so the answer is non-negative.
		if a < b {
			a, b = b, a
		}
	case OpAdd:
	}

	var answer int
	switch op {
	case OpAdd:
		answer = a + b
	case OpSub:
		answer = a - b
	case OpMul:
		answer = a * b
	}

	return Question{
		ID:         g.nextID(),
		Text:       fmt.Sprintf("%d %s %d", a, op, b),
		Answer:     answer,
		Difficulty: d,
		CreatedAt:  g.getClock().Now(),
	}
}

// Validate reports whether raw is a correct answer for the canonical value.
// It accepts strings and all numeric kinds, trims surrounding whitespace, and
// treats anything non-parseable (including empty and nil input) as incorrect.
// Validate never fails with an error.
func (*Generator) Validate(raw any, canonical int) bool {
	parsed, ok := parseAnswer(raw)
	if !ok {
		return false
	}
	return math.Abs(parsed-float64(canonical)) < answerTolerance
}

// parseAnswer converts a raw submission into a float64. The second return
// reports whether the input was parseable.
func parseAnswer(raw any) (float64, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// nextID returns a process-unique question identifier: a monotonic sequence
// number plus a random suffix.
func (g *Generator) nextID() string {
	var suffix [3]byte
	_, _ = cryptorand.Read(suffix[:])
	return fmt.Sprintf("q-%d-%s", g.seq.Add(1), hex.EncodeToString(suffix[:]))
}

// randOperand draws uniformly from [lo, hi]. A degenerate range collapses to
// lo.
func randOperand(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}
