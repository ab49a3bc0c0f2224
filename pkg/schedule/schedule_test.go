package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireTime_DailyCron(t *testing.T) {
	created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	first, err := NextFireTime("0 9 * * *", created)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), first)

	second, err := NextFireTime("0 9 * * *", first)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), second)
}

func TestNextFireTime_StrictlyAfter(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"*/5 * * * *",
		"0 9 * * *",
		"30 17 * * 1-5",
		"0 0 1 * *",
		"@hourly",
		"@daily",
		"@weekly",
		"@every 1s",
		"@every 90m",
		"daily 09:30",
		"weekly fri 18:00",
		"monthly 15 06:00",
	}

	instants := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 999, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 6, 0, 0, 500_000_000, time.UTC),
	}

	for _, expr := range expressions {
		for _, instant := range instants {
			next, err := NextFireTime(expr, instant)
			require.NoError(t, err, expr)
			assert.True(t, next.After(instant), "%s: %s should be after %s", expr, next, instant)
		}
	}
}

func TestNextFireTime_Interval(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := NextFireTime("@every 15m", start)
	require.NoError(t, err)
	assert.Equal(t, start.Add(15*time.Minute), next)
}

func TestNextFireTime_Frequencies(t *testing.T) {
	// 2024-01-01 is a Monday.
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		expr     string
		expected time.Time
	}{
		{"daily 09:00", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)},
		{"daily 10:30", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"weekly wed 08:15", time.Date(2024, 1, 3, 8, 15, 0, 0, time.UTC)},
		{"weekly monday 09:00", time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)},
		{"monthly 1 00:00", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"Monthly 20 12:00", time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			next, err := NextFireTime(tt.expr, start)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestNextFireTime_Location(t *testing.T) {
	saoPaulo := time.FixedZone("BRT", -3*60*60)
	evaluator := NewEvaluator(saoPaulo)

	next, err := evaluator.NextFireTime("0 9 * * *", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), next)
}

func TestNextFireTime_ExplicitTimezonePrefix(t *testing.T) {
	next, err := NextFireTime("CRON_TZ=America/New_York 0 9 * * *", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next)
}

func TestNextFireTime_Disabled(t *testing.T) {
	_, err := NextFireTime("@never", time.Now())
	require.ErrorIs(t, err, ErrScheduleDisabled)
	assert.True(t, IsDisabled(" @NEVER "))
	assert.NoError(t, Validate("@never"))
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"too few fields", "0 9 * *"},
		{"too many fields", "0 0 9 * * *"},
		{"minute out of range", "61 * * * *"},
		{"hour out of range", "0 24 * * *"},
		{"garbage", "every day at nine"},
		{"bad interval", "@every soon"},
		{"sub-second interval", "@every 10ms"},
		{"never fires", "0 0 30 2 *"},
		{"daily without time", "daily"},
		{"daily bad time", "daily 25:00"},
		{"weekly bad day", "weekly funday 09:00"},
		{"monthly day out of range", "monthly 32 09:00"},
		{"monthly day not number", "monthly first 09:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			require.Error(t, err)
			assert.True(t, IsInvalidSchedule(err))

			var invalidErr *InvalidScheduleError
			require.ErrorAs(t, err, &invalidErr)
			assert.Equal(t, tt.expr, invalidErr.Expr)
		})
	}
}

func TestFrequency_RoundTrip(t *testing.T) {
	tests := []string{"daily 09:05", "weekly fri 18:00", "monthly 15 06:30"}

	for _, expr := range tests {
		freq, err := ParseFrequency(expr)
		require.NoError(t, err)
		assert.Equal(t, expr, freq.String())
	}
}

func TestFrequency_Cron(t *testing.T) {
	assert.Equal(t, "5 9 * * *", Frequency{Period: PeriodDaily, Hour: 9, Minute: 5}.Cron())
	assert.Equal(t, "0 18 * * 5", Frequency{Period: PeriodWeekly, Hour: 18, Weekday: time.Friday}.Cron())
	assert.Equal(t, "30 6 15 * *", Frequency{Period: PeriodMonthly, Hour: 6, Minute: 30, DayOfMonth: 15}.Cron())
}
