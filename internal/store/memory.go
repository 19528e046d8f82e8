package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"blueballs/internal/game"
)

// Memory is a process-local game.Store and game.Directory. Every method takes
// the same lock, so compare-and-swap is atomic per account.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]game.Account
	profiles map[string]game.Profile
	runs     []game.Run
	keys     map[string]struct{}
	follows  map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]game.Account),
		profiles: make(map[string]game.Profile),
		keys:     make(map[string]struct{}),
		follows:  make(map[string]map[string]struct{}),
	}
}

// Put overwrites a record as-is, including its version.
func (m *Memory) Put(a game.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.AccountID] = a
}

func (m *Memory) Load(_ context.Context, accountID string) (game.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return game.Account{}, fmt.Errorf("%w: %s", game.ErrAccountNotFound, accountID)
	}
	return a, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, prevVersion int64, next game.Account, run *game.Run) (game.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[next.AccountID]
	if !ok || cur.Version != prevVersion {
		return game.Account{}, game.ErrConflict
	}
	var key string
	if run != nil && run.IdempotencyKey != "" {
		key = run.AccountID + "\x00" + run.IdempotencyKey
		if _, dup := m.keys[key]; dup {
			return game.Account{}, game.ErrDuplicateSubmission
		}
	}
	next.Version = prevVersion + 1
	m.accounts[next.AccountID] = next
	if run != nil {
		m.runs = append(m.runs, *run)
		if key != "" {
			m.keys[key] = struct{}{}
		}
	}
	return next, nil
}

func (m *Memory) CreateAccount(_ context.Context, p game.Profile, a game.Account) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.AccountID]; ok {
		return false, nil
	}
	m.profiles[p.AccountID] = p
	if _, ok := m.accounts[a.AccountID]; !ok {
		m.accounts[a.AccountID] = a
	}
	return true, nil
}

func (m *Memory) GetProfile(_ context.Context, accountID string) (game.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[accountID]
	if !ok {
		return game.Profile{}, fmt.Errorf("%w: %s", game.ErrAccountNotFound, accountID)
	}
	return p, nil
}

// RecentRuns returns newest first.
func (m *Memory) RecentRuns(_ context.Context, accountID string, limit int) ([]game.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []game.Run
	for i := len(m.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.runs[i].AccountID == accountID {
			out = append(out, m.runs[i])
		}
	}
	return out, nil
}

func (m *Memory) Leaderboard(_ context.Context, q game.LeaderboardQuery) ([]game.LeaderboardRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scope map[string]struct{}
	if q.FriendsOf != "" {
		scope = map[string]struct{}{q.FriendsOf: {}}
		for id := range m.follows[q.FriendsOf] {
			scope[id] = struct{}{}
		}
	}

	var out []game.LeaderboardRow
	for id, a := range m.accounts {
		p, ok := m.profiles[id]
		if !ok {
			continue
		}
		if scope != nil {
			if _, in := scope[id]; !in {
				continue
			}
		}
		if q.Region != "" && p.Region != q.Region {
			continue
		}
		out = append(out, game.LeaderboardRow{
			Username:      p.Username,
			InviteCode:    p.InviteCode,
			Region:        p.Region,
			CurrentRank:   a.CurrentRank,
			LifetimeLevel: a.LifetimeLevel,
			Value:         q.Board.Value(a),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Username < out[j].Username
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		out[i].Position = int64(i + 1)
	}
	return out, nil
}

func (m *Memory) AddFriend(_ context.Context, accountID, inviteCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	followee, err := m.accountByInviteCode(inviteCode)
	if err != nil {
		return err
	}
	if followee == accountID {
		return fmt.Errorf("%w: cannot follow yourself", game.ErrInvalidInput)
	}
	if m.follows[accountID] == nil {
		m.follows[accountID] = make(map[string]struct{})
	}
	m.follows[accountID][followee] = struct{}{}
	return nil
}

func (m *Memory) RemoveFriend(_ context.Context, accountID, inviteCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	followee, err := m.accountByInviteCode(inviteCode)
	if err != nil {
		return err
	}
	delete(m.follows[accountID], followee)
	return nil
}

func (m *Memory) accountByInviteCode(inviteCode string) (string, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	for id, p := range m.profiles {
		if p.InviteCode == inviteCode {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: invite code %s", game.ErrAccountNotFound, inviteCode)
}
