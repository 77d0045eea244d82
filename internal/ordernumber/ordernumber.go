// Package ordernumber формирует человекочитаемые номера заказов вида LL<YY><MM><seq>.
package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prefix открывает каждый номер заказа.
const Prefix = "LL"

const (
	periodLayout = "0601"
	seqWidth     = 5
)

// ErrMalformed возвращается при разборе строки, не похожей на номер заказа.
var ErrMalformed = errors.New("malformed order number")

// Sequencer выдаёт возрастающие номера в пределах периода. Уникальность
// значений гарантирует хранилище, а не вызывающий код.
type Sequencer interface {
	NextSequence(ctx context.Context, period string) (int64, error)
}

// Period возвращает ключ периода нумерации (YYMM) для момента t.
func Period(t time.Time) string {
	return t.Format(periodLayout)
}

// Format собирает номер заказа. Последовательность дополняется нулями до пяти
// знаков; более длинные значения не усекаются.
func Format(t time.Time, seq int64) string {
	return fmt.Sprintf("%s%s%0*d", Prefix, Period(t), seqWidth, seq)
}

// Parse разбирает номер заказа на период и порядковый номер.
func Parse(number string) (string, int64, error) {
	if !strings.HasPrefix(number, Prefix) {
		return "", 0, ErrMalformed
	}
	rest := number[len(Prefix):]
	if len(rest) < len(periodLayout)+seqWidth {
		return "", 0, ErrMalformed
	}

	period := rest[:len(periodLayout)]
	if _, err := time.Parse(periodLayout, period); err != nil {
		return "", 0, ErrMalformed
	}

	digits := rest[len(periodLayout):]
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return "", 0, ErrMalformed
		}
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq < 1 {
		return "", 0, ErrMalformed
	}

	return period, seq, nil
}

// Generator выдаёт номера заказов на основе Sequencer и текущей даты.
type Generator struct {
	seq Sequencer
	now func() time.Time
}

// NewGenerator создаёт генератор номеров. Если now равен nil, используется time.Now.
func NewGenerator(seq Sequencer, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{seq: seq, now: now}
}

// Next возвращает следующий номер заказа для текущего месяца (UTC).
func (g *Generator) Next(ctx context.Context) (string, error) {
	t := g.now().UTC()
	n, err := g.seq.NextSequence(ctx, Period(t))
	if err != nil {
		return "", fmt.Errorf("next order sequence: %w", err)
	}
	return Format(t, n), nil
}
