package planner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/weaver/internal/domain"
)

// CalendarInput carries everything one calendar generation needs.
type CalendarInput struct {
	TenantID string
	Year     int
	Month    int // 1-12
	Budget   float64
	Profile  domain.BehaviorProfile
}

// AllocateTotals converts a weight table and a total budget into a rounded
// per-category monetary split: amount[c] = round2(weight[c]/sum * total).
// Rounding may leave the sum of outputs within 0.01*len(weights) of the
// total; that drift is accepted and not reconciled. A zero weight sum is a
// configuration error: the division is undefined.
func AllocateTotals(weights domain.CategoryWeights, total float64) (map[string]float64, error) {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("%w: weight table sums to zero", ErrConfiguration)
	}

	amounts := make(map[string]float64, len(weights))
	for cat, w := range weights {
		amounts[cat] = round2(w / sum * total)
	}
	return amounts, nil
}

// BuildCalendar generates the monthly calendar for one planning request:
// adjust the baseline weights for the profile's behavior, split the budget
// per category, then spread each category's amount over the days of the
// month. Day selection is gated by the category's cooldown; the relative
// share a selected day receives follows its weekday bias multiplier.
// The last selected day absorbs the rounding residue so every category's
// monthly total is carried in full, never silently dropped.
func (c *CompiledConfig) BuildCalendar(in CalendarInput) (*domain.MonthlyCalendar, error) {
	if in.Month < 1 || in.Month > 12 {
		return nil, fmt.Errorf("%w: month %d out of range", ErrConfiguration, in.Month)
	}
	if in.Budget < 0 {
		return nil, fmt.Errorf("%w: budget must not be negative", ErrConfiguration)
	}

	adjusted := c.AdjustWeights(&in.Profile)

	monthly, err := AllocateTotals(adjusted, in.Budget)
	if err != nil {
		return nil, err
	}

	dayCount := domain.DayCount(in.Year, in.Month)

	days := make([]domain.DailyAllocation, dayCount)
	for d := 1; d <= dayCount; d++ {
		days[d-1] = domain.DailyAllocation{
			Day:     d,
			Weekday: domain.WeekdayOf(in.Year, in.Month, d),
			Amounts: make(map[string]float64),
		}
	}

	// Sorted iteration keeps the output identical across runs.
	categories := make([]string, 0, len(monthly))
	for cat := range monthly {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		amount := monthly[cat]
		if amount <= 0 {
			continue
		}

		selected, shares, err := c.selectDays(cat, in.Year, in.Month, dayCount)
		if err != nil {
			return nil, err
		}

		spreadAmount(cat, amount, selected, shares, days)
	}

	for i := range days {
		var total float64
		for _, a := range days[i].Amounts {
			total += a
		}
		days[i].Total = round2(total)
	}

	return &domain.MonthlyCalendar{
		ID:          uuid.New().String(),
		TenantID:    in.TenantID,
		Year:        in.Year,
		Month:       in.Month,
		Behavior:    in.Profile.Behavior,
		ConfigID:    c.Config.ID,
		Budget:      in.Budget,
		Days:        days,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// selectDays walks the month once and picks the days a category may receive
// spend. A day qualifies when the cooldown since the previous pick has
// elapsed and its bias multiplier is positive; each pick pushes the next
// allowed day to d + cooldown. A curve that zeroes out the whole month
// degrades to cooldown-only selection with equal shares, so the amount
// always has somewhere to land.
func (c *CompiledConfig) selectDays(category string, year, month, dayCount int) ([]int, []float64, error) {
	cooldown := c.Config.Cooldowns[category]
	step := cooldown
	if step < 1 {
		step = 1
	}

	var selected []int
	var shares []float64

	next := 1
	for d := 1; d <= dayCount; d++ {
		if d < next {
			continue
		}

		bias, err := c.Bias.Bias(category, domain.WeekdayOf(year, month, d))
		if err != nil {
			return nil, nil, err
		}
		if bias <= 0 {
			continue
		}

		selected = append(selected, d)
		shares = append(shares, bias)
		next = d + step
	}

	if len(selected) == 0 {
		for d := 1; d <= dayCount; d += step {
			selected = append(selected, d)
			shares = append(shares, 1)
		}
	}

	return selected, shares, nil
}

// spreadAmount distributes a category amount over the selected days in
// proportion to their shares. Cumulative rounding keeps every slice
// non-negative and makes the slices sum exactly to round2(amount), so the
// residue lands on the last selected day instead of being dropped.
func spreadAmount(category string, amount float64, selected []int, shares []float64, days []domain.DailyAllocation) {
	var shareSum float64
	for _, s := range shares {
		shareSum += s
	}

	var cumShare, allocated float64
	for i, d := range selected {
		cumShare += shares[i]
		target := round2(amount * cumShare / shareSum)

		slice := round2(target - allocated)
		allocated = target

		if slice > 0 {
			days[d-1].Amounts[category] = slice
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
