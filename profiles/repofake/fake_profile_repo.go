package fakeprofilerepo

import (
	"context"
	"sync"

	"github.com/hanzong05/farm2go-sub002/internal/errors"
	"github.com/hanzong05/farm2go-sub002/profiles"
)

var _ profiles.Repo = (*FakeProfileRepo)(nil)

type FakeProfileRepo struct {
	lock     sync.RWMutex
	rows     map[string]*profiles.Profile
	GetErr   error
	PatchErr error
	GetCalls int

	// GetHook, when set, runs at the start of GetByID. Lets tests block or
	// stall profile fetches.
	GetHook func()
}

func NewFakeProfileRepo() *FakeProfileRepo {
	return &FakeProfileRepo{
		rows: make(map[string]*profiles.Profile),
	}
}

// Upsert seeds or replaces a profile row.
func (pr *FakeProfileRepo) Upsert(profile *profiles.Profile) {
	pr.lock.Lock()
	defer pr.lock.Unlock()
	pr.rows[profile.ID] = profile
}

func (pr *FakeProfileRepo) GetByID(_ context.Context, userID string) (*profiles.Profile, error) {
	pr.lock.Lock()
	hook := pr.GetHook
	pr.GetCalls++
	pr.lock.Unlock()

	if hook != nil {
		hook()
	}

	pr.lock.Lock()
	defer pr.lock.Unlock()

	if pr.GetErr != nil {
		return nil, pr.GetErr
	}

	row, ok := pr.rows[userID]
	if !ok {
		return nil, errors.ErrProfileNotFound
	}
	copied := *row
	return &copied, nil
}

func (pr *FakeProfileRepo) Update(_ context.Context, userID string, changes profiles.Profile) (*profiles.Profile, error) {
	pr.lock.Lock()
	defer pr.lock.Unlock()

	if pr.PatchErr != nil {
		return nil, pr.PatchErr
	}

	row, ok := pr.rows[userID]
	if !ok {
		return nil, errors.ErrProfileNotFound
	}

	merged := row.Merge(changes)
	pr.rows[userID] = &merged
	copied := merged
	return &copied, nil
}
