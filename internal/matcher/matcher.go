// Package matcher groups subscriptions that share a snapshot request and
// selects the offers each subscription should hear about.
package matcher

import (
	"sort"
	"strconv"
	"strings"

	"slotbot/internal/slot"
)

// Group is a set of subscriptions served by one upstream snapshot.
type Group struct {
	// Key is canonical for (locations, categories); equal keys fetch the same data.
	Key           string
	LocationIDs   []int64
	Categories    []slot.Category
	Subscriptions []slot.Subscription
}

// Match pairs a subscription with an offer it should be notified about.
type Match struct {
	Subscription slot.Subscription
	Offer        slot.Offer
}

// Key returns the canonical grouping key for a subscription.
func Key(s slot.Subscription) string {
	return key(slot.NormalizeLocations(s.LocationIDs), slot.NormalizeCategories(s.Categories))
}

func key(locs []int64, cats []slot.Category) string {
	var b strings.Builder
	for i, l := range locs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(l, 10))
	}
	b.WriteByte('|')
	for i, c := range cats {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(c)))
	}
	return b.String()
}

// GroupSubscriptions partitions subs by identical location and category sets.
// Groups are ordered by key; members keep their input order.
func GroupSubscriptions(subs []slot.Subscription) []Group {
	byKey := make(map[string]*Group)
	for _, s := range subs {
		locs := slot.NormalizeLocations(s.LocationIDs)
		cats := slot.NormalizeCategories(s.Categories)
		k := key(locs, cats)
		g, ok := byKey[k]
		if !ok {
			g = &Group{Key: k, LocationIDs: locs, Categories: cats}
			byKey[k] = g
		}
		g.Subscriptions = append(g.Subscriptions, s)
	}

	out := make([]Group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// MatchOne reports whether offer satisfies sub.
func MatchOne(sub slot.Subscription, offer slot.Offer) bool {
	if !offer.Available() {
		return false
	}
	if !sub.HasLocation(offer.LocationID) || !sub.HasCategory(offer.Category) {
		return false
	}
	if !sub.Compare.Holds(offer.Coefficient, sub.Threshold) {
		return false
	}
	return sub.Window.Contains(offer.Date)
}

// MatchGroup returns, per subscription in group order, the matching offers
// sorted by coefficient, then date, then location, then category.
func MatchGroup(g Group, offers []slot.Offer) []Match {
	sorted := append([]slot.Offer(nil), offers...)
	SortOffers(sorted)

	var out []Match
	for _, s := range g.Subscriptions {
		for _, o := range sorted {
			if MatchOne(s, o) {
				out = append(out, Match{Subscription: s, Offer: o})
			}
		}
	}
	return out
}

// SortOffers orders offers in place, cheapest and earliest first.
func SortOffers(offers []slot.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		a, b := offers[i], offers[j]
		if a.Coefficient != b.Coefficient {
			return a.Coefficient < b.Coefficient
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.Category < b.Category
	})
}
