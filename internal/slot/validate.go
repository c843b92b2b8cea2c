package slot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure returned by this package.
var ErrInvalid = errors.New("invalid subscription")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			return Category(fl.Field().Int()).Known()
		})
		validate = v
	})
	return validate
}

// Params carries the user-supplied fields of a new subscription.
type Params struct {
	ID           string
	SubscriberID int64
	LocationIDs  []int64
	Categories   []Category
	Threshold    float64
	Compare      CompareMode
	Window       Window
	Mode         Mode
	CreatedAt    time.Time
}

// NewSubscription builds an active, normalized subscription and validates it.
func NewSubscription(p Params) (Subscription, error) {
	if p.Compare == "" {
		p.Compare = CompareLessOrEqual
	}
	if p.Mode == "" {
		p.Mode = ModeUnlimited
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s := Subscription{
		ID:           strings.TrimSpace(p.ID),
		SubscriberID: p.SubscriberID,
		LocationIDs:  NormalizeLocations(p.LocationIDs),
		Categories:   NormalizeCategories(p.Categories),
		Threshold:    p.Threshold,
		Compare:      p.Compare,
		Window:       p.Window,
		Mode:         p.Mode,
		Active:       true,
		CreatedAt:    p.CreatedAt,
	}
	if err := s.Validate(); err != nil {
		return Subscription{}, err
	}
	return s, nil
}

// Validate checks field constraints. Persisted records are re-validated on load.
func (s Subscription) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !s.Window.From.IsZero() && !s.Window.Until.IsZero() && s.Window.Until.Before(s.Window.From) {
		return fmt.Errorf("%w: window ends before it starts", ErrInvalid)
	}
	return nil
}

// NormalizeLocations returns a sorted copy without duplicates.
func NormalizeLocations(in []int64) []int64 {
	out := make([]int64, 0, len(in))
	seen := make(map[int64]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeCategories returns a sorted copy without duplicates.
func NormalizeCategories(in []Category) []Category {
	out := make([]Category, 0, len(in))
	seen := make(map[Category]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
