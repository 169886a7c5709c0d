package cronsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFireEveryHour(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	next, err := NextFire("0 * * * *", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestNextFireEmptyUsesDefault(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	next, err := NextFire("", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC), next)
}

func TestNextFireInvalidExpr(t *testing.T) {
	_, err := NextFire("not a cron expr", time.Now(), time.UTC)
	assert.Error(t, err)
}

func TestNextFireRespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC) // 01:00 EDT
	next, err := NextFire("0 9 * * *", now, loc)
	require.NoError(t, err)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, "America/New_York", next.Location().String())
}
