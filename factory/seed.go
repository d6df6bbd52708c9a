package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/ledger"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SEED FILE TYPES
// =============================================================================

// Seed is the YAML demo/bootstrap data set:
//
//	users:
//	  - utorid: alice001
//	    name: Alice
//	    email: alice@mail.utoronto.ca
//	    role: regular
//	    points: 500
//	    verified: true
//	promotions:
//	  - name: Spring Bonus
//	    type: automatic
//	    startTime: 2025-03-01T00:00:00Z
//	    endTime: 2025-03-31T23:59:59Z
//	    rate: 0.01
//	events:
//	  - name: Hackathon
//	    points: 1000
//	    startTime: 2025-03-15T09:00:00Z
//	    endTime: 2025-03-15T21:00:00Z
//	    organizers: [manager1]
//	    guests: [alice001]
type Seed struct {
	Users      []UserSeed      `yaml:"users"`
	Promotions []PromotionSeed `yaml:"promotions"`
	Events     []EventSeed     `yaml:"events"`
}

type UserSeed struct {
	Utorid     string `yaml:"utorid"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Role       string `yaml:"role"`
	Points     int64  `yaml:"points"`
	Verified   bool   `yaml:"verified"`
	Suspicious bool   `yaml:"suspicious"`
}

// PromotionSeed mirrors PromotionJSON with YAML-friendly numeric fields.
type PromotionSeed struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Type        string    `yaml:"type"`
	StartTime   time.Time `yaml:"startTime"`
	EndTime     time.Time `yaml:"endTime"`
	MinSpending *float64  `yaml:"minSpending"`
	Rate        *float64  `yaml:"rate"`
	Points      *int64    `yaml:"points"`
}

type EventSeed struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Location    string    `yaml:"location"`
	Capacity    *int64    `yaml:"capacity"`
	Points      int64     `yaml:"points"`
	StartTime   time.Time `yaml:"startTime"`
	EndTime     time.Time `yaml:"endTime"`
	Published   bool      `yaml:"published"`
	Organizers  []string  `yaml:"organizers"`
	Guests      []string  `yaml:"guests"`
}

// =============================================================================
// PARSING
// =============================================================================

// LoadSeedFile reads and parses a YAML seed file.
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed parses YAML seed data and checks that every reference resolves.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}

	utorids := make(map[string]bool, len(s.Users))
	for i, u := range s.Users {
		if u.Utorid == "" {
			return nil, fmt.Errorf("users[%d]: utorid is required", i)
		}
		if utorids[u.Utorid] {
			return nil, fmt.Errorf("users[%d]: duplicate utorid %q", i, u.Utorid)
		}
		utorids[u.Utorid] = true
		if u.Role != "" {
			if _, ok := ledger.ParseRole(u.Role); !ok {
				return nil, fmt.Errorf("users[%d]: unknown role %q", i, u.Role)
			}
		}
		if u.Points < 0 {
			return nil, fmt.Errorf("users[%d]: points must not be negative", i)
		}
	}

	for i, ev := range s.Events {
		if ev.Name == "" {
			return nil, fmt.Errorf("events[%d]: name is required", i)
		}
		if ev.Points <= 0 {
			return nil, fmt.Errorf("events[%d]: points must be positive", i)
		}
		if !ev.EndTime.After(ev.StartTime) {
			return nil, fmt.Errorf("events[%d]: endTime must be after startTime", i)
		}
		for _, ref := range append(append([]string{}, ev.Organizers...), ev.Guests...) {
			if !utorids[ref] {
				return nil, fmt.Errorf("events[%d]: unknown user %q", i, ref)
			}
		}
	}

	for i, p := range s.Promotions {
		if _, err := p.Promotion(); err != nil {
			return nil, fmt.Errorf("promotions[%d]: %w", i, err)
		}
	}
	return &s, nil
}

// Account converts the seed entry to an account with no points; opening
// balances are credited separately so they are backed by a ledger row.
func (u UserSeed) Account() ledger.Account {
	role := ledger.RoleRegular
	if r, ok := ledger.ParseRole(u.Role); ok {
		role = r
	}
	return ledger.Account{
		Utorid:     u.Utorid,
		Name:       u.Name,
		Email:      u.Email,
		Role:       role,
		Verified:   u.Verified,
		Suspicious: u.Suspicious,
	}
}

// Promotion converts the seed entry through the promotion factory.
func (p PromotionSeed) Promotion() (*ledger.Promotion, error) {
	pj := PromotionJSON{
		Name:        p.Name,
		Description: p.Description,
		Type:        p.Type,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		Points:      p.Points,
	}
	if p.MinSpending != nil {
		d := decimal.NewFromFloat(*p.MinSpending)
		pj.MinSpending = &d
	}
	if p.Rate != nil {
		d := decimal.NewFromFloat(*p.Rate)
		pj.Rate = &d
	}
	return NewPromotionFactory().FromJSON(pj)
}

func (ev EventSeed) Event() ledger.Event {
	return ledger.Event{
		Name:         ev.Name,
		Description:  ev.Description,
		Location:     ev.Location,
		Capacity:     ev.Capacity,
		Points:       ev.Points,
		PointsRemain: ev.Points,
		StartTime:    ev.StartTime.UTC(),
		EndTime:      ev.EndTime.UTC(),
		Published:    ev.Published,
	}
}
