package localauth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Storage for tests and small setups.
type MemoryDirectory struct {
	mu     sync.Mutex
	users  map[string]*UserData
	tokens map[string]ResetToken
	now    func() time.Time
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:  make(map[string]*UserData),
		tokens: make(map[string]ResetToken),
		now:    time.Now,
	}
}

// SetClock overrides the time source used for the expired-token sweep.
func (d *MemoryDirectory) SetClock(now func() time.Time) { d.now = now }

func (d *MemoryDirectory) UserByName(_ context.Context, name string) (*UserData, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[name]
	if !ok {
		return nil, false, nil
	}
	return copyUser(name, u), true, nil
}

func (d *MemoryDirectory) UserByEmail(_ context.Context, email string) (*UserData, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(name, u), true, nil
		}
	}
	return nil, false, nil
}

func (d *MemoryDirectory) SaveUser(_ context.Context, name string, u *UserData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[name] = copyUser(name, u)
	return nil
}

func (d *MemoryDirectory) UsersCount(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users), nil
}

func (d *MemoryDirectory) ValidName(name string) bool {
	return ValidUsernameFormat(name)
}

func (d *MemoryDirectory) SaveResetToken(_ context.Context, id string, t ResetToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[id] = t
	return nil
}

// TakeResetToken deletes the requested record on read and sweeps any
// other expired records it finds.
func (d *MemoryDirectory) TakeResetToken(_ context.Context, id string) (ResetToken, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().Unix()
	for tid, t := range d.tokens {
		if tid != id && now > t.ValidUntil {
			delete(d.tokens, tid)
		}
	}

	t, ok := d.tokens[id]
	if !ok {
		return ResetToken{}, false, nil
	}
	delete(d.tokens, id)
	return t, true, nil
}

func copyUser(name string, u *UserData) *UserData {
	c := *u
	c.Name = name
	c.Groups = append([]string(nil), u.Groups...)
	if u.Attributes != nil {
		c.Attributes = make(map[string]any, len(u.Attributes))
		for k, v := range u.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}
