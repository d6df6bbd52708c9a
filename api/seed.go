package api

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// SEED LOADING
// =============================================================================

// SeedResult reports what LoadSeed created.
type SeedResult struct {
	Skipped    bool
	Accounts   int
	Promotions int
	EventIDs   []int64
}

// LoadSeed writes seed data into an empty store in one atomic unit. A store
// that already has accounts is left untouched. Opening balances are
// recorded as self-created adjustment rows with no RelatedID and
// ledger.OpeningBalanceRemark, so every seeded balance replays from the
// ledger.
func LoadSeed(ctx context.Context, store ledger.TxStore, seed *factory.Seed, log logrus.FieldLogger) (*SeedResult, error) {
	existing, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing accounts: %w", err)
	}
	if len(existing) > 0 {
		log.WithField("accounts", len(existing)).Info("store not empty, skipping seed")
		return &SeedResult{Skipped: true}, nil
	}

	res := &SeedResult{}
	err = store.RunAtomically(ctx, func(s ledger.Store) error {
		ids := make(map[string]int64, len(seed.Users))
		for _, u := range seed.Users {
			acct := u.Account()
			if err := s.CreateAccount(ctx, &acct); err != nil {
				return fmt.Errorf("user %q: %w", u.Utorid, err)
			}
			ids[u.Utorid] = acct.ID
			if u.Points > 0 {
				opening := u.Points
				if err := s.InsertTransaction(ctx, &ledger.Transaction{
					Kind:        ledger.KindAdjustment,
					UserID:      acct.ID,
					CreatedByID: acct.ID,
					Awarded:     &opening,
					Remark:      ledger.OpeningBalanceRemark,
				}); err != nil {
					return fmt.Errorf("user %q: %w", u.Utorid, err)
				}
				if err := s.AddPoints(ctx, acct.ID, opening); err != nil {
					return fmt.Errorf("user %q: %w", u.Utorid, err)
				}
			}
			res.Accounts++
		}

		for _, ps := range seed.Promotions {
			p, err := ps.Promotion()
			if err != nil {
				return fmt.Errorf("promotion %q: %w", ps.Name, err)
			}
			if err := s.CreatePromotion(ctx, p); err != nil {
				return fmt.Errorf("promotion %q: %w", ps.Name, err)
			}
			res.Promotions++
		}

		for _, es := range seed.Events {
			ev := es.Event()
			if err := s.CreateEvent(ctx, &ev); err != nil {
				return fmt.Errorf("event %q: %w", es.Name, err)
			}
			for _, u := range es.Organizers {
				if err := s.AddOrganizer(ctx, ev.ID, ids[u]); err != nil {
					return fmt.Errorf("event %q: organizer %q: %w", es.Name, u, err)
				}
			}
			for _, u := range es.Guests {
				if err := s.AddGuest(ctx, ev.ID, ids[u]); err != nil {
					return fmt.Errorf("event %q: guest %q: %w", es.Name, u, err)
				}
			}
			res.EventIDs = append(res.EventIDs, ev.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"accounts":   res.Accounts,
		"promotions": res.Promotions,
		"events":     len(res.EventIDs),
	}).Info("seed loaded")
	return res, nil
}
