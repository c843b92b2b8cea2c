package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		ID:           "sub-1",
		SubscriberID: 42,
		LocationIDs:  []int64{117986, 507, 117986},
		Categories:   []Category{CategoryMonoPallets, CategoryBoxes},
		Threshold:    1,
		Mode:         ModeOneShot,
	}
}

func TestNewSubscription_Normalizes(t *testing.T) {
	t.Parallel()

	s, err := NewSubscription(validParams())
	require.NoError(t, err)

	assert.Equal(t, []int64{507, 117986}, s.LocationIDs)
	assert.Equal(t, []Category{CategoryBoxes, CategoryMonoPallets}, s.Categories)
	assert.Equal(t, CompareLessOrEqual, s.Compare)
	assert.True(t, s.Active)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestNewSubscription_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"no id", func(p *Params) { p.ID = " " }},
		{"no subscriber", func(p *Params) { p.SubscriberID = 0 }},
		{"no locations", func(p *Params) { p.LocationIDs = nil }},
		{"bad location", func(p *Params) { p.LocationIDs = []int64{-3} }},
		{"no categories", func(p *Params) { p.Categories = []Category{} }},
		{"unknown category", func(p *Params) { p.Categories = []Category{99} }},
		{"negative threshold", func(p *Params) { p.Threshold = -1 }},
		{"bad compare", func(p *Params) { p.Compare = "gt" }},
		{"bad mode", func(p *Params) { p.Mode = "forever" }},
		{"inverted window", func(p *Params) {
			now := time.Now()
			p.Window = Window{From: now, Until: now.Add(-time.Hour)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validParams()
			tt.mutate(&p)
			_, err := NewSubscription(p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCompareMode_Holds(t *testing.T) {
	t.Parallel()

	assert.True(t, CompareLessThan.Holds(0.5, 1))
	assert.False(t, CompareLessThan.Holds(1, 1))
	assert.True(t, CompareLessOrEqual.Holds(1, 1))
	assert.False(t, CompareLessOrEqual.Holds(1.5, 1))
	assert.False(t, CompareMode("").Holds(0, 1))
}

func TestWindow(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	w := Window{From: day, Until: day.Add(48 * time.Hour)}

	assert.True(t, w.Contains(day))
	assert.True(t, w.Contains(day.Add(24*time.Hour)))
	assert.False(t, w.Contains(day.Add(-time.Second)))
	assert.False(t, w.Contains(day.Add(49*time.Hour)))
	assert.True(t, Window{}.Contains(day))

	assert.True(t, w.Expired(day.Add(72*time.Hour)))
	assert.False(t, w.Expired(day))
	assert.False(t, Window{}.Expired(day))
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	c, ok := ParseCategory("mono_pallets")
	require.True(t, ok)
	assert.Equal(t, CategoryMonoPallets, c)

	c, ok = ParseCategory("6")
	require.True(t, ok)
	assert.Equal(t, CategorySuperSafe, c)

	_, ok = ParseCategory("7")
	assert.False(t, ok)
	_, ok = ParseCategory("pallets")
	assert.False(t, ok)

	assert.Equal(t, "Короба", CategoryBoxes.Name())
	assert.Equal(t, "тип 9", Category(9).Name())
}
