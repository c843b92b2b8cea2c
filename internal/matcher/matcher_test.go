package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbot/internal/slot"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func sub(id string, locs []int64, cats []slot.Category, threshold float64) slot.Subscription {
	return slot.Subscription{
		ID:           id,
		SubscriberID: 1,
		LocationIDs:  locs,
		Categories:   cats,
		Threshold:    threshold,
		Compare:      slot.CompareLessOrEqual,
		Mode:         slot.ModeUnlimited,
		Active:       true,
	}
}

func offer(loc int64, cat slot.Category, coef float64, d time.Time) slot.Offer {
	return slot.Offer{LocationID: loc, Category: cat, Coefficient: coef, Date: d}
}

func TestMatchOne(t *testing.T) {
	t.Parallel()

	s := sub("s", []int64{507}, []slot.Category{slot.CategoryBoxes}, 1)
	lt := s
	lt.Compare = slot.CompareLessThan
	windowed := s
	windowed.Window = slot.Window{From: day, Until: day.Add(24 * time.Hour)}

	tests := []struct {
		name string
		sub  slot.Subscription
		o    slot.Offer
		want bool
	}{
		{"match", s, offer(507, slot.CategoryBoxes, 0, day), true},
		{"equal threshold le", s, offer(507, slot.CategoryBoxes, 1, day), true},
		{"equal threshold lt", lt, offer(507, slot.CategoryBoxes, 1, day), false},
		{"above threshold", s, offer(507, slot.CategoryBoxes, 2, day), false},
		{"unavailable", s, offer(507, slot.CategoryBoxes, -1, day), false},
		{"other location", s, offer(508, slot.CategoryBoxes, 0, day), false},
		{"other category", s, offer(507, slot.CategoryMonoPallets, 0, day), false},
		{"inside window", windowed, offer(507, slot.CategoryBoxes, 0, day.Add(12*time.Hour)), true},
		{"before window", windowed, offer(507, slot.CategoryBoxes, 0, day.Add(-time.Hour)), false},
		{"after window", windowed, offer(507, slot.CategoryBoxes, 0, day.Add(48*time.Hour)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchOne(tt.sub, tt.o))
		})
	}
}

func TestGroupSubscriptions(t *testing.T) {
	t.Parallel()

	subs := []slot.Subscription{
		sub("a", []int64{507, 117986}, []slot.Category{slot.CategoryBoxes}, 1),
		sub("b", []int64{300}, []slot.Category{slot.CategoryBoxes}, 1),
		sub("c", []int64{117986, 507, 507}, []slot.Category{slot.CategoryBoxes}, 3),
		sub("d", []int64{507, 117986}, []slot.Category{slot.CategoryBoxes, slot.CategorySuperSafe}, 1),
	}

	groups := GroupSubscriptions(subs)
	require.Len(t, groups, 3)

	byKey := map[string][]string{}
	for _, g := range groups {
		for _, s := range g.Subscriptions {
			byKey[g.Key] = append(byKey[g.Key], s.ID)
		}
	}
	assert.Equal(t, []string{"a", "c"}, byKey["507,117986|2"])
	assert.Equal(t, []string{"b"}, byKey["300|2"])
	assert.Equal(t, []string{"d"}, byKey["507,117986|2,6"])

	for i := 1; i < len(groups); i++ {
		assert.Less(t, groups[i-1].Key, groups[i].Key)
	}
	assert.Equal(t, Key(subs[0]), Key(subs[2]))
	assert.NotEqual(t, Key(subs[0]), Key(subs[3]))
}

func TestGroupSubscriptions_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, GroupSubscriptions(nil))
}

// Grouping must not change which (subscription, offer) pairs match.
func TestMatchGroup_EquivalentToPerSubscription(t *testing.T) {
	t.Parallel()

	subs := []slot.Subscription{
		sub("a", []int64{507, 117986}, []slot.Category{slot.CategoryBoxes}, 1),
		sub("b", []int64{117986, 507}, []slot.Category{slot.CategoryBoxes}, 0),
		sub("c", []int64{507}, []slot.Category{slot.CategoryBoxes, slot.CategoryMonoPallets}, 5),
	}
	offers := []slot.Offer{
		offer(507, slot.CategoryBoxes, 1, day),
		offer(117986, slot.CategoryBoxes, 0, day.Add(24*time.Hour)),
		offer(507, slot.CategoryMonoPallets, 3, day),
		offer(507, slot.CategoryBoxes, -1, day),
	}

	type pair struct {
		id string
		o  slot.Offer
	}
	var grouped, direct []pair
	for _, g := range GroupSubscriptions(subs) {
		for _, m := range MatchGroup(g, offers) {
			grouped = append(grouped, pair{m.Subscription.ID, m.Offer})
		}
	}
	for _, s := range subs {
		for _, o := range offers {
			if MatchOne(s, o) {
				direct = append(direct, pair{s.ID, o})
			}
		}
	}
	assert.ElementsMatch(t, direct, grouped)
	assert.Len(t, grouped, 5)
}

func TestMatchGroup_Ordering(t *testing.T) {
	t.Parallel()

	s := sub("s", []int64{1, 2}, []slot.Category{slot.CategoryBoxes, slot.CategoryMonoPallets}, 10)
	g := GroupSubscriptions([]slot.Subscription{s})[0]
	offers := []slot.Offer{
		offer(2, slot.CategoryBoxes, 1, day),
		offer(1, slot.CategoryBoxes, 0, day.Add(24*time.Hour)),
		offer(1, slot.CategoryMonoPallets, 1, day),
		offer(1, slot.CategoryBoxes, 1, day),
		offer(1, slot.CategoryBoxes, 0, day),
	}

	got := MatchGroup(g, offers)
	require.Len(t, got, 5)
	want := []slot.Offer{
		offer(1, slot.CategoryBoxes, 0, day),
		offer(1, slot.CategoryBoxes, 0, day.Add(24*time.Hour)),
		offer(1, slot.CategoryBoxes, 1, day),
		offer(1, slot.CategoryMonoPallets, 1, day),
		offer(2, slot.CategoryBoxes, 1, day),
	}
	for i := range want {
		assert.Equal(t, want[i], got[i].Offer, "position %d", i)
	}
	assert.Equal(t, offer(2, slot.CategoryBoxes, 1, day), offers[0], "input is not reordered")
}

func TestMatchGroup_NoMatches(t *testing.T) {
	t.Parallel()

	g := GroupSubscriptions([]slot.Subscription{sub("s", []int64{1}, []slot.Category{slot.CategoryBoxes}, 0)})[0]
	assert.Empty(t, MatchGroup(g, []slot.Offer{offer(1, slot.CategoryBoxes, 2, day)}))
	assert.Empty(t, MatchGroup(g, nil))
}
