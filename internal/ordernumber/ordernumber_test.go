package ordernumber

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSequencer struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *counterSequencer) NextSequence(ctx context.Context, period string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[period]++
	return c.counts[period], nil
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		seq  int64
		want string
	}{
		{name: "first of month", at: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), seq: 1, want: "LL260100001"},
		{name: "december", at: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC), seq: 421, want: "LL251200421"},
		{name: "full width", at: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), seq: 99999, want: "LL261099999"},
		{name: "overflow not truncated", at: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), seq: 123456, want: "LL2610123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.at, tt.seq))
		})
	}
}

func TestParse(t *testing.T) {
	period, seq, err := Parse("LL261000042")
	require.NoError(t, err)
	assert.Equal(t, "2610", period)
	assert.Equal(t, int64(42), seq)

	for _, bad := range []string{"", "LL", "XX261000042", "LL2613000042", "LL26100004a", "LL261000000", "LL2610001"} {
		_, _, err := Parse(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestGenerator_SequentialWithinMonth(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(&counterSequencer{}, func() time.Time { return now })

	var prev int64
	for i := 0; i < 20; i++ {
		number, err := g.Next(context.Background())
		require.NoError(t, err)

		period, seq, err := Parse(number)
		require.NoError(t, err)
		assert.Equal(t, "2610", period)
		assert.Greater(t, seq, prev)
		prev = seq
	}
}

func TestGenerator_NewMonthRestartsSequence(t *testing.T) {
	now := time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)
	seq := &counterSequencer{}
	g := NewGenerator(seq, func() time.Time { return now })

	first, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LL261000001", first)

	now = now.Add(2 * time.Minute)
	second, err := g.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LL261100001", second)
}

func TestGenerator_SequencerError(t *testing.T) {
	boom := errors.New("redis: connection refused")
	g := NewGenerator(&counterSequencer{err: boom}, nil)

	_, err := g.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	g := NewGenerator(&counterSequencer{}, nil)

	const workers = 50
	numbers := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Next(context.Background())
			if err == nil {
				numbers <- n
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]struct{})
	for n := range numbers {
		_, dup := seen[n]
		assert.False(t, dup, "duplicate order number %s", n)
		seen[n] = struct{}{}
	}
	assert.Len(t, seen, workers)
}

func TestFormatParseProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Parse inverts Format", prop.ForAll(
		func(year, month int, seq int64) bool {
			at := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
			period, got, err := Parse(Format(at, seq))
			return err == nil && got == seq && period == Period(at)
		},
		gen.IntRange(2000, 2099),
		gen.IntRange(1, 12),
		gen.Int64Range(1, 9999999),
	))

	properties.Property("numbers order like sequences within a month", prop.ForAll(
		func(a, b int64) bool {
			at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
			if a >= b {
				return true
			}
			return Format(at, a) < Format(at, b) || len(Format(at, b)) > len(Format(at, a))
		},
		gen.Int64Range(1, 99999),
		gen.Int64Range(1, 99999),
	))

	properties.TestingRun(t)
}
