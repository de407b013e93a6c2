package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/luc/internal/account/domain"
)

// fileDocument is the on-disk layout. Histories are stored oldest first.
type fileDocument struct {
	Version  string                                `json:"version"`
	Accounts map[string]json.RawMessage            `json:"accounts"`
	History  map[string][]domain.UsageHistoryEntry `json:"history"`
}

// FileStore keeps every account in one JSON file, rewritten atomically on
// each mutation. It suits single-process deployments and local tooling.
type FileStore struct {
	mu        sync.RWMutex
	path      string
	ledgerCap int
	accounts  map[string]*domain.Account
	history   map[string][]domain.UsageHistoryEntry
}

func NewFileStore(path string, ledgerCap int) (*FileStore, error) {
	if ledgerCap <= 0 {
		ledgerCap = domain.DefaultLedgerCap
	}
	s := &FileStore{
		path:      path,
		ledgerCap: ledgerCap,
		accounts:  map[string]*domain.Account{},
		history:   map[string][]domain.UsageHistoryEntry{},
	}
	if err := s.load(); err != nil {
		return nil, domain.WrapStorage("load", err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	for id, raw := range doc.Accounts {
		acct, err := domain.UnmarshalAccount(raw)
		if err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		s.accounts[id] = acct
	}
	for id, entries := range doc.History {
		s.history[id] = entries
	}
	return nil
}

// flush writes the document to a temp file and renames it into place.
// Callers hold the write lock.
func (s *FileStore) flush() error {
	doc := fileDocument{
		Version:  domain.ExportVersion,
		Accounts: make(map[string]json.RawMessage, len(s.accounts)),
		History:  s.history,
	}
	for id, acct := range s.accounts {
		raw, err := domain.MarshalAccount(acct)
		if err != nil {
			return err
		}
		doc.Accounts[id] = raw
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// mutate applies fn to a copy of the state and keeps it only if the
// file write succeeds.
func (s *FileStore) mutate(op string, fn func(accounts map[string]*domain.Account, history map[string][]domain.UsageHistoryEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevAccounts := make(map[string]*domain.Account, len(s.accounts))
	for k, v := range s.accounts {
		prevAccounts[k] = v
	}
	prevHistory := make(map[string][]domain.UsageHistoryEntry, len(s.history))
	for k, v := range s.history {
		prevHistory[k] = v
	}

	if err := fn(s.accounts, s.history); err != nil {
		s.accounts, s.history = prevAccounts, prevHistory
		return domain.WrapStorage(op, err)
	}
	if err := s.flush(); err != nil {
		s.accounts, s.history = prevAccounts, prevHistory
		return domain.WrapStorage(op, err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, userID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (s *FileStore) Create(_ context.Context, acct *domain.Account) (*domain.Account, bool, error) {
	var (
		stored  *domain.Account
		created bool
	)
	err := s.mutate("create", func(accounts map[string]*domain.Account, _ map[string][]domain.UsageHistoryEntry) error {
		if existing, ok := accounts[acct.UserID]; ok {
			stored = existing.Clone()
			return nil
		}
		accounts[acct.UserID] = domain.Normalize(acct)
		stored, created = domain.Normalize(acct), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *FileStore) Save(ctx context.Context, acct *domain.Account) error {
	return s.Commit(ctx, acct)
}

func (s *FileStore) Commit(_ context.Context, acct *domain.Account, entries ...domain.UsageHistoryEntry) error {
	return s.mutate("commit", func(accounts map[string]*domain.Account, history map[string][]domain.UsageHistoryEntry) error {
		if _, ok := accounts[acct.UserID]; !ok {
			return domain.ErrAccountNotFound
		}
		accounts[acct.UserID] = domain.Normalize(acct)
		if len(entries) > 0 {
			history[acct.UserID] = s.appendCapped(history[acct.UserID], entries...)
		}
		return nil
	})
}

func (s *FileStore) Delete(_ context.Context, userID string) error {
	return s.mutate("delete", func(accounts map[string]*domain.Account, history map[string][]domain.UsageHistoryEntry) error {
		if _, ok := accounts[userID]; !ok {
			return domain.ErrAccountNotFound
		}
		delete(accounts, userID)
		delete(history, userID)
		return nil
	})
}

func (s *FileStore) List(_ context.Context, filter domain.ListFilter) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.accounts))
	for id, acct := range s.accounts {
		if filter.PlanID != "" && acct.PlanID != filter.PlanID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ids = page(ids, filter.Offset, filter.Limit)

	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.accounts[id].Clone())
	}
	return out, nil
}

func (s *FileStore) ListDue(_ context.Context, before time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*domain.Account, 0)
	for _, acct := range s.accounts {
		if acct.CycleDue(before) {
			due = append(due, acct)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].BillingCycleEnd.Equal(due[j].BillingCycleEnd) {
			return due[i].BillingCycleEnd.Before(due[j].BillingCycleEnd)
		}
		return due[i].UserID < due[j].UserID
	})

	ids := make([]string, 0, len(due))
	for _, acct := range due {
		ids = append(ids, acct.UserID)
	}
	return page(ids, 0, limit), nil
}

func (s *FileStore) AppendEntry(_ context.Context, entry domain.UsageHistoryEntry) error {
	return s.mutate("append_entry", func(_ map[string]*domain.Account, history map[string][]domain.UsageHistoryEntry) error {
		history[entry.UserID] = s.appendCapped(history[entry.UserID], entry)
		return nil
	})
}

func (s *FileStore) History(_ context.Context, userID string, limit int) ([]domain.UsageHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[userID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]domain.UsageHistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *FileStore) Import(_ context.Context, acct *domain.Account, entries []domain.UsageHistoryEntry) error {
	return s.mutate("import", func(accounts map[string]*domain.Account, history map[string][]domain.UsageHistoryEntry) error {
		if len(entries) > s.ledgerCap {
			entries = entries[:s.ledgerCap]
		}
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			if _, dup := seen[e.ID]; dup {
				return fmt.Errorf("%w: duplicate usage history entry id", domain.ErrInvalidImport)
			}
			seen[e.ID] = struct{}{}
		}
		ordered := make([]domain.UsageHistoryEntry, 0, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			e.UserID = acct.UserID
			ordered = append(ordered, e)
		}
		accounts[acct.UserID] = domain.Normalize(acct)
		history[acct.UserID] = ordered
		return nil
	})
}

// appendCapped returns a new slice so snapshots taken by mutate stay intact.
func (s *FileStore) appendCapped(existing []domain.UsageHistoryEntry, entries ...domain.UsageHistoryEntry) []domain.UsageHistoryEntry {
	out := make([]domain.UsageHistoryEntry, 0, len(existing)+len(entries))
	out = append(out, existing...)
	out = append(out, entries...)
	if over := len(out) - s.ledgerCap; over > 0 {
		out = out[over:]
	}
	return out
}

func page(ids []string, offset, limit int) []string {
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}
