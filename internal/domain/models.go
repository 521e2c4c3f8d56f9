package domain

import (
	"fmt"
	"strings"
	"time"
)

// PropertyCategory is the fixed set of listing types agents work with.
type PropertyCategory string

const (
	CategoryHouse       PropertyCategory = "house"
	CategoryCondo       PropertyCategory = "condo"
	CategoryTownhouse   PropertyCategory = "townhouse"
	CategoryApartment   PropertyCategory = "apartment"
	CategoryLand        PropertyCategory = "land"
	CategoryMultiFamily PropertyCategory = "multi_family"
)

func (c PropertyCategory) IsValid() bool {
	switch c {
	case CategoryHouse, CategoryCondo, CategoryTownhouse, CategoryApartment, CategoryLand, CategoryMultiFamily:
		return true
	}
	return false
}

// ListingStatus is a listing's lifecycle state. Only active listings are
// eligible for matching.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingPending   ListingStatus = "pending"
	ListingSold      ListingStatus = "sold"
	ListingWithdrawn ListingStatus = "withdrawn"
)

func (s ListingStatus) IsValid() bool {
	switch s {
	case ListingActive, ListingPending, ListingSold, ListingWithdrawn:
		return true
	}
	return false
}

// UrgencyTier reflects how actively a client is looking.
type UrgencyTier string

const (
	UrgencyLow    UrgencyTier = "low"
	UrgencyMedium UrgencyTier = "medium"
	UrgencyHigh   UrgencyTier = "high"
)

func (u UrgencyTier) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// IntRange is an optionally-bounded inclusive range. A nil bound is open.
type IntRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// Open reports whether the range carries no constraint at all.
func (r IntRange) Open() bool { return r.Min == nil && r.Max == nil }

// Contains reports whether v satisfies the bounds that are present.
func (r IntRange) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r IntRange) validate(label string) error {
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%s: min %d greater than max %d", label, *r.Min, *r.Max)
	}
	return nil
}

// PriceRange is IntRange for prices, kept separate for the wider type.
type PriceRange struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

func (r PriceRange) Open() bool { return r.Min == nil && r.Max == nil }

func (r PriceRange) Contains(v int64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

func (r PriceRange) validate() error {
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("price range: min %d greater than max %d", *r.Min, *r.Max)
	}
	return nil
}

// Preferences is a client's stated property preference profile. Empty sets
// and nil bounds mean "no constraint".
type Preferences struct {
	Price         PriceRange         `json:"price"`
	Neighborhoods []string           `json:"neighborhoods,omitempty"`
	Categories    []PropertyCategory `json:"categories,omitempty"`
	Bedrooms      IntRange           `json:"bedrooms"`
	Bathrooms     IntRange           `json:"bathrooms"`
	MustHave      []string           `json:"must_have,omitempty"`
	DealBreakers  []string           `json:"deal_breakers,omitempty"`
	Urgency       UrgencyTier        `json:"urgency,omitempty"`
}

// Validate enforces the profile invariants: min ≤ max for every range that
// has both bounds, and known enum values.
func (p Preferences) Validate() error {
	if err := p.Price.validate(); err != nil {
		return err
	}
	if err := p.Bedrooms.validate("bedroom range"); err != nil {
		return err
	}
	if err := p.Bathrooms.validate("bathroom range"); err != nil {
		return err
	}
	for _, c := range p.Categories {
		if !c.IsValid() {
			return fmt.Errorf("unknown property category %q", c)
		}
	}
	if p.Urgency != "" && !p.Urgency.IsValid() {
		return fmt.Errorf("unknown urgency tier %q", p.Urgency)
	}
	return nil
}

// Client is one of the agent's contacts.
type Client struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	Name        string      `json:"name"`
	Email       string      `json:"email"`
	Preferences Preferences `json:"preferences"`
}

func (c Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("client name is required")
	}
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("client email is required")
	}
	return c.Preferences.Validate()
}

// Listing is a property on the agent's catalog.
type Listing struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Title        string           `json:"title"`
	Price        int64            `json:"price"`
	Category     PropertyCategory `json:"category"`
	Neighborhood string           `json:"neighborhood"`
	Bedrooms     int              `json:"bedrooms"`
	Bathrooms    int              `json:"bathrooms"`
	Features     []string         `json:"features,omitempty"`
	Status       ListingStatus    `json:"status"`
}

func (l Listing) Validate() error {
	if l.Price < 0 {
		return fmt.Errorf("listing price must be non-negative")
	}
	if !l.Category.IsValid() {
		return fmt.Errorf("unknown property category %q", l.Category)
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("unknown listing status %q", l.Status)
	}
	return nil
}

// Match is a (client, listing) pairing produced by a matching run. Matches
// are deactivated rather than deleted so outreach history survives.
type Match struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	ClientID    string    `json:"client_id"`
	ListingID   string    `json:"listing_id"`
	Score       float64   `json:"score"`
	Reasons     []string  `json:"reasons,omitempty"`
	Active      bool      `json:"active"`
	SentEmailID string    `json:"sent_email_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MilestoneType is the fixed set of milestone classes. All but
// MilestonePersonalEvent recur annually on the anchor's month/day.
type MilestoneType string

const (
	MilestoneBirthday           MilestoneType = "birthday"
	MilestoneHomeAnniversary    MilestoneType = "home_anniversary"
	MilestoneClosingAnniversary MilestoneType = "closing_anniversary"
	MilestonePersonalEvent      MilestoneType = "personal_event"
)

func (t MilestoneType) IsValid() bool {
	switch t {
	case MilestoneBirthday, MilestoneHomeAnniversary, MilestoneClosingAnniversary, MilestonePersonalEvent:
		return true
	}
	return false
}

// Recurring reports whether the type triggers every year.
func (t MilestoneType) Recurring() bool { return t != MilestonePersonalEvent }

// Milestone is a dated client event that triggers outreach. Version backs
// the store's compare-and-swap update, guarding concurrent sweeps.
type Milestone struct {
	ID        string        `json:"id"`
	AccountID string        `json:"account_id"`
	ClientID  string        `json:"client_id"`
	Type      MilestoneType `json:"type"`
	Anchor    Date          `json:"anchor"`
	Message   string        `json:"message,omitempty"`
	Active    bool          `json:"active"`
	LastSent  *time.Time    `json:"last_sent,omitempty"`
	NextDue   Date          `json:"next_due"`
	Version   int64         `json:"version"`
}

func (m Milestone) Validate() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("unknown milestone type %q", m.Type)
	}
	if m.Anchor.IsZero() {
		return fmt.Errorf("milestone anchor date is required")
	}
	if m.ClientID == "" {
		return fmt.Errorf("milestone client id is required")
	}
	return nil
}
