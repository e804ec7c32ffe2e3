package botguard

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Challenge is a trivial arithmetic question used as a step-up gate after
// repeated failures. It slows scripted retries; it is not a CAPTCHA in any
// rigorous sense.
type Challenge struct {
	question string
	solution int
}

func NewChallenge() *Challenge {
	a := rand.Intn(10) + 1
	b := rand.Intn(10) + 1

	ops := []string{"+", "-", "*"}
	op := ops[rand.Intn(len(ops))]

	c := &Challenge{question: fmt.Sprintf("%d %s %d", a, op, b)}
	switch op {
	case "+":
		c.solution = a + b
	case "-":
		c.solution = a - b
	case "*":
		c.solution = a * b
	}
	return c
}

// Question returns the challenge text, e.g. "7 * 3".
func (c *Challenge) Question() string {
	return c.question
}

// Verify checks the submitted answer. Callers regenerate the challenge
// after a wrong answer and require re-entry.
func (c *Challenge) Verify(answer string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil {
		return false
	}
	return n == c.solution
}

// Solution exposes the expected answer for tests.
func (c *Challenge) Solution() int {
	return c.solution
}
