// Package numbering allocates human-readable work order numbers of the form
// WO-<year>-<seq>, with the sequence restarting every calendar year.
package numbering

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

const prefix = "WO"

// Sequence hands out strictly increasing values per year.
type Sequence interface {
	Next(ctx context.Context, year int) (int64, error)
}

// Number is one allocated identifier.
type Number struct {
	Value string
	Year  int
	Seq   int64
}

// Generator formats sequence values into work order numbers.
type Generator struct {
	seq Sequence
	now func() time.Time
}

// NewGenerator builds a generator over seq; now defaults to time.Now.
func NewGenerator(seq Sequence, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{seq: seq, now: now}
}

// Next allocates the next number for the current UTC year.
func (g *Generator) Next(ctx context.Context) (Number, error) {
	year := g.now().UTC().Year()
	seq, err := g.seq.Next(ctx, year)
	if err != nil {
		return Number{}, fmt.Errorf("allocate work order number: %w", err)
	}
	return Number{Value: Format(year, seq), Year: year, Seq: seq}, nil
}

// Format renders year and seq; the suffix is zero padded to four digits and grows past 9999.
func Format(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// ParseNumber splits a number produced by Format back into its parts.
func ParseNumber(number string) (int, int64, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != prefix {
		return 0, 0, invalidNumber(number)
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 4 {
		return 0, 0, invalidNumber(number)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 || len(parts[2]) < 4 {
		return 0, 0, invalidNumber(number)
	}
	return year, seq, nil
}

func invalidNumber(number string) error {
	return apperrors.NewValidationError("malformed work order number", map[string]any{"number": number})
}
