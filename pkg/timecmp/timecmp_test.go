package timecmp

import (
	"testing"
	"time"

	"github.com/msteffen/machine-chronograph/pkg/check"
)

var base = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

func TestMinMax(t *testing.T) {
	later := base.Add(time.Minute)
	check.T(t,
		check.True(Min(base, later).Equal(base)),
		check.True(Min(later, base).Equal(base)),
		check.True(Max(base, later).Equal(later)),
		check.True(Max(later, base).Equal(later)),
		check.True(Leq(base, base)),
		check.False(Leq(later, base)),
	)
}

func TestClamp(t *testing.T) {
	lo, hi := base, base.Add(10*time.Hour)
	check.T(t,
		check.True(Clamp(base.Add(-time.Hour), lo, hi).Equal(lo)),
		check.True(Clamp(base.Add(11*time.Hour), lo, hi).Equal(hi)),
		check.True(Clamp(base.Add(time.Hour), lo, hi).Equal(base.Add(time.Hour))),
	)
}

func TestWithin(t *testing.T) {
	end := base.Add(time.Hour)
	check.T(t,
		check.True(Within(base, base, end)),
		check.False(Within(end, base, end)),
		check.False(Within(base.Add(-time.Second), base, end)),
		check.Eq(NonNegative(-time.Second), time.Duration(0)),
		check.Eq(NonNegative(time.Second), time.Second),
	)
}
