package slot

import (
	"strconv"
	"strings"
	"time"
)

// Category is a supply category code as published by the upstream API (boxTypeID).
type Category int

const (
	CategoryBoxes       Category = 2
	CategoryMonoPallets Category = 5
	CategorySuperSafe   Category = 6
)

var categoryNames = map[Category]string{
	CategoryBoxes:       "Короба",
	CategoryMonoPallets: "Монопаллеты",
	CategorySuperSafe:   "Суперсейф",
}

var categoryKeys = map[string]Category{
	"boxes":        CategoryBoxes,
	"mono_pallets": CategoryMonoPallets,
	"super_safe":   CategorySuperSafe,
}

// Name returns the display name used in alerts.
func (c Category) Name() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "тип " + strconv.Itoa(int(c))
}

// Known reports whether c is one of the catalogued categories.
func (c Category) Known() bool {
	_, ok := categoryNames[c]
	return ok
}

// ParseCategory accepts either a catalog key ("boxes") or a numeric code ("2").
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := categoryKeys[s]; ok {
		return c, true
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	c := Category(n)
	return c, c.Known()
}

// CategoryByName maps an upstream display name (boxTypeName) to a category.
func CategoryByName(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for c, n := range categoryNames {
		if strings.EqualFold(n, name) {
			return c, true
		}
	}
	return 0, false
}

// CompareMode selects how an offer coefficient is compared against a threshold.
type CompareMode string

const (
	CompareLessThan    CompareMode = "lt"
	CompareLessOrEqual CompareMode = "le"
)

// Holds reports whether coefficient satisfies the comparison against threshold.
func (m CompareMode) Holds(coefficient, threshold float64) bool {
	switch m {
	case CompareLessThan:
		return coefficient < threshold
	case CompareLessOrEqual:
		return coefficient <= threshold
	default:
		return false
	}
}

// Mode is the notification cardinality of a subscription.
type Mode string

const (
	// ModeOneShot deactivates the subscription after its first successful dispatch.
	ModeOneShot Mode = "one_shot"
	// ModeUnlimited keeps notifying until stopped externally.
	ModeUnlimited Mode = "unlimited"
)

// Window optionally restricts the slot dates a subscription cares about.
// Zero bounds are open.
type Window struct {
	From  time.Time `json:"from,omitempty"`
	Until time.Time `json:"until,omitempty"`
}

// Contains reports whether t falls within [From, Until].
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.Until.IsZero() && t.After(w.Until) {
		return false
	}
	return true
}

// Expired reports whether the window closed before now.
func (w Window) Expired(now time.Time) bool {
	return !w.Until.IsZero() && w.Until.Before(now)
}

// Subscription is a standing request by one subscriber for slots matching its criteria.
type Subscription struct {
	ID           string      `json:"id" validate:"required"`
	SubscriberID int64       `json:"subscriber_id" validate:"required,ne=0"`
	LocationIDs  []int64     `json:"location_ids" validate:"required,min=1,dive,gt=0"`
	Categories   []Category  `json:"categories" validate:"required,min=1,dive,category"`
	Threshold    float64     `json:"threshold" validate:"gte=0"`
	Compare      CompareMode `json:"compare" validate:"required,oneof=lt le"`
	Window       Window      `json:"window"`
	Mode         Mode        `json:"mode" validate:"required,oneof=one_shot unlimited"`
	Active       bool        `json:"active"`
	CreatedAt    time.Time   `json:"created_at"`
}

// HasLocation reports whether id is one of the subscription's locations.
func (s Subscription) HasLocation(id int64) bool {
	for _, l := range s.LocationIDs {
		if l == id {
			return true
		}
	}
	return false
}

// HasCategory reports whether c is one of the subscription's categories.
func (s Subscription) HasCategory(c Category) bool {
	for _, x := range s.Categories {
		if x == c {
			return true
		}
	}
	return false
}

// Offer is one slot from an upstream snapshot. A negative coefficient means unavailable.
type Offer struct {
	LocationID  int64     `json:"location_id"`
	Category    Category  `json:"category"`
	Coefficient float64   `json:"coefficient"`
	Date        time.Time `json:"date"`
	// LocationName is the upstream's own label, used when the catalog has no entry.
	LocationName string `json:"location_name,omitempty"`
}

// Available reports whether the slot can be booked at all.
func (o Offer) Available() bool { return o.Coefficient >= 0 }
