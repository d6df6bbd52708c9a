// Package store provides an in-memory ledger.TxStore for tests and local runs.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// STATE - the data, with lock-free primitives
// =============================================================================

type guestKey struct{ eventID, userID int64 }
type useKey struct{ userID, promotionID int64 }

type state struct {
	accounts     map[int64]ledger.Account
	utorids      map[string]int64
	transactions map[int64]ledger.Transaction
	promotions   map[int64]ledger.Promotion
	uses         map[useKey]bool
	events       map[int64]ledger.Event
	organizers   map[guestKey]int64 // value is a join sequence for ordering
	guests       map[guestKey]int64
	seq          int64
	now          func() time.Time
}

func newState() *state {
	return &state{
		accounts:     make(map[int64]ledger.Account),
		utorids:      make(map[string]int64),
		transactions: make(map[int64]ledger.Transaction),
		promotions:   make(map[int64]ledger.Promotion),
		uses:         make(map[useKey]bool),
		events:       make(map[int64]ledger.Event),
		organizers:   make(map[guestKey]int64),
		guests:       make(map[guestKey]int64),
		now:          time.Now,
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:     make(map[int64]ledger.Account, len(s.accounts)),
		utorids:      make(map[string]int64, len(s.utorids)),
		transactions: make(map[int64]ledger.Transaction, len(s.transactions)),
		promotions:   make(map[int64]ledger.Promotion, len(s.promotions)),
		uses:         make(map[useKey]bool, len(s.uses)),
		events:       make(map[int64]ledger.Event, len(s.events)),
		organizers:   make(map[guestKey]int64, len(s.organizers)),
		guests:       make(map[guestKey]int64, len(s.guests)),
		seq:          s.seq,
		now:          s.now,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.utorids {
		c.utorids[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.promotions {
		c.promotions[k] = v
	}
	for k, v := range s.uses {
		c.uses[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.organizers {
		c.organizers[k] = v
	}
	for k, v := range s.guests {
		c.guests[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// ---- accounts ----

func (s *state) CreateAccount(_ context.Context, a *ledger.Account) error {
	if _, taken := s.utorids[a.Utorid]; taken {
		return ledger.ErrDuplicateUtorid
	}
	a.ID = s.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.accounts[a.ID] = *a
	s.utorids[a.Utorid] = a.ID
	return nil
}

func (s *state) GetAccount(_ context.Context, id int64) (*ledger.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &a, nil
}

func (s *state) GetAccountByUtorid(ctx context.Context, utorid string) (*ledger.Account, error) {
	id, ok := s.utorids[utorid]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

func (s *state) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) UpdateAccount(_ context.Context, a *ledger.Account) error {
	cur, ok := s.accounts[a.ID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	cur.Email = a.Email
	cur.Role = a.Role
	cur.Verified = a.Verified
	cur.Suspicious = a.Suspicious
	s.accounts[a.ID] = cur
	return nil
}

func (s *state) AddPoints(_ context.Context, id int64, delta int64) error {
	a, ok := s.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Points += delta
	s.accounts[id] = a
	return nil
}

func (s *state) DebitPoints(_ context.Context, id int64, amount int64) (bool, error) {
	a, ok := s.accounts[id]
	if !ok {
		return false, ledger.ErrAccountNotFound
	}
	if a.Points < amount {
		return false, nil
	}
	a.Points -= amount
	s.accounts[id] = a
	return true, nil
}

// ---- transactions ----

func (s *state) InsertTransaction(_ context.Context, tx *ledger.Transaction) error {
	tx.ID = s.nextID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now().UTC()
	}
	stored := *tx
	stored.PromotionIDs = append([]int64(nil), tx.PromotionIDs...)
	s.transactions[tx.ID] = stored
	return nil
}

func (s *state) GetTransaction(_ context.Context, id int64) (*ledger.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	tx.PromotionIDs = append([]int64(nil), tx.PromotionIDs...)
	return &tx, nil
}

func (s *state) ListTransactionsByUser(_ context.Context, userID int64) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) MarkProcessed(_ context.Context, id int64, processedBy int64) (bool, error) {
	tx, ok := s.transactions[id]
	if !ok || tx.Kind != ledger.KindRedemption || tx.IsProcessed() {
		return false, nil
	}
	processed := true
	tx.Processed = &processed
	tx.ProcessedByID = &processedBy
	s.transactions[id] = tx
	return true, nil
}

func (s *state) SetSuspicious(_ context.Context, id int64, flag bool) (bool, error) {
	tx, ok := s.transactions[id]
	if !ok || tx.Suspicious == flag {
		return false, nil
	}
	tx.Suspicious = flag
	s.transactions[id] = tx
	return true, nil
}

// ---- promotions ----

func (s *state) CreatePromotion(_ context.Context, p *ledger.Promotion) error {
	p.ID = s.nextID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.promotions[p.ID] = *p
	return nil
}

func (s *state) UpdatePromotion(_ context.Context, p *ledger.Promotion) error {
	if _, ok := s.promotions[p.ID]; !ok {
		return ledger.ErrPromotionNotFound
	}
	s.promotions[p.ID] = *p
	return nil
}

func (s *state) DeletePromotion(_ context.Context, id int64) error {
	if _, ok := s.promotions[id]; !ok {
		return ledger.ErrPromotionNotFound
	}
	delete(s.promotions, id)
	return nil
}

func (s *state) GetPromotion(_ context.Context, id int64) (*ledger.Promotion, error) {
	p, ok := s.promotions[id]
	if !ok {
		return nil, ledger.ErrPromotionNotFound
	}
	return &p, nil
}

func (s *state) ListPromotions(_ context.Context) ([]ledger.Promotion, error) {
	out := make([]ledger.Promotion, 0, len(s.promotions))
	for _, p := range s.promotions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) ActivePromotions(ctx context.Context, kind ledger.PromotionKind, at time.Time) ([]ledger.Promotion, error) {
	all, _ := s.ListPromotions(ctx)
	var out []ledger.Promotion
	for _, p := range all {
		if p.Kind == kind && p.ActiveAt(at) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *state) IsPromotionUsed(_ context.Context, userID, promotionID int64) (bool, error) {
	return s.uses[useKey{userID, promotionID}], nil
}

func (s *state) MarkPromotionUsed(_ context.Context, userID, promotionID int64) (bool, error) {
	k := useKey{userID, promotionID}
	if s.uses[k] {
		return false, nil
	}
	s.uses[k] = true
	return true, nil
}

// ---- events ----

func (s *state) CreateEvent(_ context.Context, e *ledger.Event) error {
	e.ID = s.nextID()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.events[e.ID] = *e
	return nil
}

func (s *state) GetEvent(_ context.Context, id int64) (*ledger.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, ledger.ErrEventNotFound
	}
	return &e, nil
}

func (s *state) ReserveEventPoints(_ context.Context, id int64, total int64) (bool, error) {
	e, ok := s.events[id]
	if !ok {
		return false, ledger.ErrEventNotFound
	}
	if e.PointsRemain < total {
		return false, nil
	}
	e.PointsRemain -= total
	e.PointsAwarded += total
	s.events[id] = e
	return true, nil
}

func (s *state) AdjustEventBudget(_ context.Context, id int64, delta int64) (bool, error) {
	e, ok := s.events[id]
	if !ok {
		return false, ledger.ErrEventNotFound
	}
	if e.PointsRemain+delta < 0 {
		return false, nil
	}
	e.Points += delta
	e.PointsRemain += delta
	s.events[id] = e
	return true, nil
}

// UpdateEvent writes the descriptive fields. Pool counters are left alone.
func (s *state) UpdateEvent(_ context.Context, e *ledger.Event) error {
	cur, ok := s.events[e.ID]
	if !ok {
		return ledger.ErrEventNotFound
	}
	cur.Name = e.Name
	cur.Description = e.Description
	cur.Location = e.Location
	cur.Capacity = e.Capacity
	cur.StartTime = e.StartTime
	cur.EndTime = e.EndTime
	cur.Published = e.Published
	s.events[e.ID] = cur
	return nil
}

func (s *state) DeleteEvent(_ context.Context, id int64) error {
	if _, ok := s.events[id]; !ok {
		return ledger.ErrEventNotFound
	}
	delete(s.events, id)
	for k := range s.organizers {
		if k.eventID == id {
			delete(s.organizers, k)
		}
	}
	for k := range s.guests {
		if k.eventID == id {
			delete(s.guests, k)
		}
	}
	return nil
}

func (s *state) AddOrganizer(_ context.Context, eventID, userID int64) error {
	k := guestKey{eventID, userID}
	if _, ok := s.organizers[k]; !ok {
		s.organizers[k] = s.nextID()
	}
	return nil
}

func (s *state) AddGuest(_ context.Context, eventID, userID int64) error {
	k := guestKey{eventID, userID}
	if _, ok := s.guests[k]; !ok {
		s.guests[k] = s.nextID()
	}
	return nil
}

func (s *state) RemoveGuest(_ context.Context, eventID, userID int64) (bool, error) {
	k := guestKey{eventID, userID}
	if _, ok := s.guests[k]; !ok {
		return false, nil
	}
	delete(s.guests, k)
	return true, nil
}

func (s *state) RemoveOrganizer(_ context.Context, eventID, userID int64) (bool, error) {
	k := guestKey{eventID, userID}
	if _, ok := s.organizers[k]; !ok {
		return false, nil
	}
	delete(s.organizers, k)
	return true, nil
}

func (s *state) IsOrganizer(_ context.Context, eventID, userID int64) (bool, error) {
	_, ok := s.organizers[guestKey{eventID, userID}]
	return ok, nil
}

func (s *state) IsGuest(_ context.Context, eventID, userID int64) (bool, error) {
	_, ok := s.guests[guestKey{eventID, userID}]
	return ok, nil
}

func (s *state) ListGuests(_ context.Context, eventID int64) ([]int64, error) {
	return members(s.guests, eventID), nil
}

func (s *state) ListOrganizers(_ context.Context, eventID int64) ([]int64, error) {
	return members(s.organizers, eventID), nil
}

func members(m map[guestKey]int64, eventID int64) []int64 {
	type entry struct{ user, seq int64 }
	var entries []entry
	for k, seq := range m {
		if k.eventID == eventID {
			entries = append(entries, entry{k.userID, seq})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.user
	}
	return out
}

// =============================================================================
// MEMORY STORE - locked access to state, snapshot/restore atomic units
// =============================================================================

// Memory is a ledger.TxStore held entirely in process memory. Every call,
// including a whole RunAtomically unit, holds one mutex, so units are
// serialized exactly like the single-writer SQLite store.
type Memory struct {
	mu sync.Mutex
	st *state
}

var (
	_ ledger.TxStore = (*Memory)(nil)
	_ ledger.Store   = (*state)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithClock sets the time source used for CreatedAt stamps.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.now = now
	return m
}

// RunAtomically runs fn against the live state and restores a snapshot
// taken beforehand if fn fails or panics. A panic is re-raised after the
// restore.
func (m *Memory) RunAtomically(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	defer func() {
		if r := recover(); r != nil {
			m.st = snapshot
			panic(r)
		}
	}()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) lock() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) CreateAccount(ctx context.Context, a *ledger.Account) error {
	defer m.lock()()
	return m.st.CreateAccount(ctx, a)
}

func (m *Memory) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	defer m.lock()()
	return m.st.GetAccount(ctx, id)
}

func (m *Memory) GetAccountByUtorid(ctx context.Context, utorid string) (*ledger.Account, error) {
	defer m.lock()()
	return m.st.GetAccountByUtorid(ctx, utorid)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	defer m.lock()()
	return m.st.ListAccounts(ctx)
}

func (m *Memory) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	defer m.lock()()
	return m.st.UpdateAccount(ctx, a)
}

func (m *Memory) AddPoints(ctx context.Context, id int64, delta int64) error {
	defer m.lock()()
	return m.st.AddPoints(ctx, id, delta)
}

func (m *Memory) DebitPoints(ctx context.Context, id int64, amount int64) (bool, error) {
	defer m.lock()()
	return m.st.DebitPoints(ctx, id, amount)
}

func (m *Memory) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	defer m.lock()()
	return m.st.InsertTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error) {
	defer m.lock()()
	return m.st.GetTransaction(ctx, id)
}

func (m *Memory) ListTransactionsByUser(ctx context.Context, userID int64) ([]ledger.Transaction, error) {
	defer m.lock()()
	return m.st.ListTransactionsByUser(ctx, userID)
}

func (m *Memory) MarkProcessed(ctx context.Context, id int64, processedBy int64) (bool, error) {
	defer m.lock()()
	return m.st.MarkProcessed(ctx, id, processedBy)
}

func (m *Memory) SetSuspicious(ctx context.Context, id int64, flag bool) (bool, error) {
	defer m.lock()()
	return m.st.SetSuspicious(ctx, id, flag)
}

func (m *Memory) CreatePromotion(ctx context.Context, p *ledger.Promotion) error {
	defer m.lock()()
	return m.st.CreatePromotion(ctx, p)
}

func (m *Memory) UpdatePromotion(ctx context.Context, p *ledger.Promotion) error {
	defer m.lock()()
	return m.st.UpdatePromotion(ctx, p)
}

func (m *Memory) DeletePromotion(ctx context.Context, id int64) error {
	defer m.lock()()
	return m.st.DeletePromotion(ctx, id)
}

func (m *Memory) GetPromotion(ctx context.Context, id int64) (*ledger.Promotion, error) {
	defer m.lock()()
	return m.st.GetPromotion(ctx, id)
}

func (m *Memory) ListPromotions(ctx context.Context) ([]ledger.Promotion, error) {
	defer m.lock()()
	return m.st.ListPromotions(ctx)
}

func (m *Memory) ActivePromotions(ctx context.Context, kind ledger.PromotionKind, at time.Time) ([]ledger.Promotion, error) {
	defer m.lock()()
	return m.st.ActivePromotions(ctx, kind, at)
}

func (m *Memory) IsPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error) {
	defer m.lock()()
	return m.st.IsPromotionUsed(ctx, userID, promotionID)
}

func (m *Memory) MarkPromotionUsed(ctx context.Context, userID, promotionID int64) (bool, error) {
	defer m.lock()()
	return m.st.MarkPromotionUsed(ctx, userID, promotionID)
}

func (m *Memory) CreateEvent(ctx context.Context, e *ledger.Event) error {
	defer m.lock()()
	return m.st.CreateEvent(ctx, e)
}

func (m *Memory) GetEvent(ctx context.Context, id int64) (*ledger.Event, error) {
	defer m.lock()()
	return m.st.GetEvent(ctx, id)
}

func (m *Memory) ReserveEventPoints(ctx context.Context, id int64, total int64) (bool, error) {
	defer m.lock()()
	return m.st.ReserveEventPoints(ctx, id, total)
}

func (m *Memory) AdjustEventBudget(ctx context.Context, id int64, delta int64) (bool, error) {
	defer m.lock()()
	return m.st.AdjustEventBudget(ctx, id, delta)
}

func (m *Memory) UpdateEvent(ctx context.Context, e *ledger.Event) error {
	defer m.lock()()
	return m.st.UpdateEvent(ctx, e)
}

func (m *Memory) DeleteEvent(ctx context.Context, id int64) error {
	defer m.lock()()
	return m.st.DeleteEvent(ctx, id)
}

func (m *Memory) AddOrganizer(ctx context.Context, eventID, userID int64) error {
	defer m.lock()()
	return m.st.AddOrganizer(ctx, eventID, userID)
}

func (m *Memory) AddGuest(ctx context.Context, eventID, userID int64) error {
	defer m.lock()()
	return m.st.AddGuest(ctx, eventID, userID)
}

func (m *Memory) RemoveGuest(ctx context.Context, eventID, userID int64) (bool, error) {
	defer m.lock()()
	return m.st.RemoveGuest(ctx, eventID, userID)
}

func (m *Memory) RemoveOrganizer(ctx context.Context, eventID, userID int64) (bool, error) {
	defer m.lock()()
	return m.st.RemoveOrganizer(ctx, eventID, userID)
}

func (m *Memory) IsOrganizer(ctx context.Context, eventID, userID int64) (bool, error) {
	defer m.lock()()
	return m.st.IsOrganizer(ctx, eventID, userID)
}

func (m *Memory) IsGuest(ctx context.Context, eventID, userID int64) (bool, error) {
	defer m.lock()()
	return m.st.IsGuest(ctx, eventID, userID)
}

func (m *Memory) ListGuests(ctx context.Context, eventID int64) ([]int64, error) {
	defer m.lock()()
	return m.st.ListGuests(ctx, eventID)
}

func (m *Memory) ListOrganizers(ctx context.Context, eventID int64) ([]int64, error) {
	defer m.lock()()
	return m.st.ListOrganizers(ctx, eventID)
}
