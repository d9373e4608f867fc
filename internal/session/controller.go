package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/x69x/webmail/internal/model"
	"github.com/x69x/webmail/internal/provider"
	"github.com/x69x/webmail/internal/store"
)

// ErrAccountNotFound is returned when an operation targets an account id
// that is not in the local collection.
var ErrAccountNotFound = errors.New("account not found")

// Provider is the subset of the mailbox provisioning client the controller
// depends on.
type Provider interface {
	CreateMailbox(ctx context.Context, localPart, domain, password string) (string, error)
	Login(ctx context.Context, email, password string) (*provider.AccountInfo, error)
	GetMessages(ctx context.Context, email, password string) ([]model.Message, error)
	DeleteMailbox(ctx context.Context, email string) error
	ChangePassword(ctx context.Context, email, newPassword string) error
}

var _ Provider = (*provider.Client)(nil)

// State is the controller's renderable snapshot for the presentation layer.
type State struct {
	Accounts        []model.Account `json:"accounts"`
	ActiveAccount   *model.Account  `json:"active_account"`
	Messages        []model.Message `json:"messages"`
	SelectedMessage *model.Message  `json:"selected_message"`
	Busy            bool            `json:"busy"`
}

// Controller is the authoritative in-memory owner of the account collection
// and the single active account. It applies create/login/switch/logout/
// delete/change-password operations, mirrors every mutation to the store,
// and reloads messages whenever the activation changes.
//
// Every in-flight message fetch carries the activation generation it was
// issued under; results arriving after the activation changed are dropped,
// never applied. No request is ever aborted mid-flight.
type Controller struct {
	store    store.Store
	provider Provider
	logger   *logrus.Logger

	mu       gosync.Mutex
	accounts []model.Account
	activeID string
	messages []model.Message
	selected *model.Message
	busy     int
	gen      uint64

	changed chan struct{}
}

// New creates a controller and loads the persisted account collection.
// A failed or partial load is treated as empty state: the controller logs
// and starts fresh rather than refusing to run.
func New(ctx context.Context, s store.Store, p Provider, logger *logrus.Logger) *Controller {
	c := &Controller{
		store:    s,
		provider: p,
		logger:   logger,
		messages: []model.Message{},
		changed:  make(chan struct{}, 1),
	}

	accounts, err := s.LoadAccounts(ctx)
	if err != nil {
		logger.WithError(err).Warn("loading accounts failed, starting with empty state")
		accounts = []model.Account{}
	}

	// Enforce the single-active invariant on whatever was persisted:
	// the first active account wins, any extra active flags are cleared.
	for i := range accounts {
		if accounts[i].IsActive {
			if c.activeID == "" {
				c.activeID = accounts[i].ID
			} else {
				accounts[i].IsActive = false
			}
		}
	}
	c.accounts = accounts

	return c
}

// Changes returns a channel that receives a signal whenever the renderable
// state changed. Signals coalesce; consumers should re-read Snapshot.
func (c *Controller) Changes() <-chan struct{} {
	return c.changed
}

// Snapshot returns a copy of the current renderable state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Accounts: append([]model.Account(nil), c.accounts...),
		Messages: append([]model.Message(nil), c.messages...),
		Busy:     c.busy > 0,
	}
	if st.Accounts == nil {
		st.Accounts = []model.Account{}
	}
	if st.Messages == nil {
		st.Messages = []model.Message{}
	}
	if acc, ok := c.findLocked(c.activeID); ok {
		cp := *acc
		st.ActiveAccount = &cp
	}
	if c.selected != nil {
		cp := *c.selected
		st.SelectedMessage = &cp
	}
	return st
}

// CreateAccount provisions a new mailbox and appends it to the collection.
// The new account becomes active only when it is the first one; in that
// case its messages are loaded immediately. On provider failure nothing
// is added and the failure is returned to the caller.
func (c *Controller) CreateAccount(ctx context.Context, localPart, password, domain string) (model.Account, error) {
	c.beginOp()
	defer c.endOp()

	email, err := c.provider.CreateMailbox(ctx, localPart, domain, password)
	if err != nil {
		return model.Account{}, err
	}

	c.mu.Lock()
	acc := model.Account{
		ID:       uuid.New().String(),
		Email:    email,
		Password: password,
		Domain:   domain,
		IsActive: len(c.accounts) == 0,
	}
	c.accounts = append(c.accounts, acc)

	first := acc.IsActive
	var gen uint64
	if first {
		c.activeID = acc.ID
		c.gen++
		gen = c.gen
	}
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()

	if first {
		c.loadMessages(ctx, acc, gen)
	}

	return acc, nil
}

// Login authenticates against the provider. A known email gets its stored
// password updated and becomes exclusively active; an unknown one is
// appended as a new active account with the domain inferred from the email
// suffix. Either way the now-active account's messages are loaded. On
// failure the collection is untouched.
func (c *Controller) Login(ctx context.Context, email, password string) (model.Account, error) {
	c.beginOp()
	defer c.endOp()

	info, err := c.provider.Login(ctx, email, password)
	if err != nil {
		return model.Account{}, err
	}

	c.mu.Lock()
	var acc model.Account
	if idx := c.indexByEmailLocked(email); idx >= 0 {
		for i := range c.accounts {
			c.accounts[i].IsActive = i == idx
		}
		c.accounts[idx].Password = password
		acc = c.accounts[idx]
	} else {
		domain := info.Domain
		if domain == "" {
			domain = domainOf(email)
		}
		acc = model.Account{
			ID:       uuid.New().String(),
			Email:    email,
			Password: password,
			Domain:   domain,
			IsActive: true,
		}
		for i := range c.accounts {
			c.accounts[i].IsActive = false
		}
		c.accounts = append(c.accounts, acc)
	}

	c.activeID = acc.ID
	c.messages = []model.Message{}
	c.selected = nil
	c.gen++
	gen := c.gen
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()

	c.loadMessages(ctx, acc, gen)

	return acc, nil
}

// SwitchAccount marks the given account exclusively active, clears the
// displayed messages and any open message, and reloads the inbox. It is a
// no-op when the id is unknown. Switching to the already-active account
// leaves the flags unchanged but still clears and reloads.
func (c *Controller) SwitchAccount(ctx context.Context, id string) bool {
	c.mu.Lock()
	acc, ok := c.findLocked(id)
	if !ok {
		c.mu.Unlock()
		return false
	}

	for i := range c.accounts {
		c.accounts[i].IsActive = c.accounts[i].ID == id
	}
	target := *acc
	target.IsActive = true
	c.activeID = id
	c.messages = []model.Message{}
	c.selected = nil
	c.gen++
	gen := c.gen
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()

	c.loadMessages(ctx, target, gen)
	return true
}

// Logout clears the active flag on every account and empties the displayed
// messages. The accounts themselves stay in the store.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	for i := range c.accounts {
		c.accounts[i].IsActive = false
	}
	c.activeID = ""
	c.messages = []model.Message{}
	c.selected = nil
	c.gen++
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()
}

// DeleteAccount removes the mailbox on the provider side and, only on
// success, removes it locally. If the deleted account was active, the
// preferred successor becomes active and its messages are loaded.
func (c *Controller) DeleteAccount(ctx context.Context, id string) error {
	c.mu.Lock()
	acc, ok := c.findLocked(id)
	if !ok {
		c.mu.Unlock()
		return ErrAccountNotFound
	}
	email := acc.Email
	c.mu.Unlock()

	c.beginOp()
	defer c.endOp()

	if err := c.provider.DeleteMailbox(ctx, email); err != nil {
		return err
	}

	c.removeLocally(ctx, id)
	return nil
}

// RemoveAccountLocally drops the account from local state without touching
// the remote mailbox ("log out on this device only"), then applies the same
// successor-activation rule as DeleteAccount.
func (c *Controller) RemoveAccountLocally(ctx context.Context, id string) error {
	c.mu.Lock()
	_, ok := c.findLocked(id)
	c.mu.Unlock()
	if !ok {
		return ErrAccountNotFound
	}

	c.removeLocally(ctx, id)
	return nil
}

// ChangePassword updates the mailbox password on the provider side and,
// only on success, updates the local account. The active session uses the
// new password from the next fetch on.
func (c *Controller) ChangePassword(ctx context.Context, id, newPassword string) error {
	c.mu.Lock()
	acc, ok := c.findLocked(id)
	if !ok {
		c.mu.Unlock()
		return ErrAccountNotFound
	}
	email := acc.Email
	c.mu.Unlock()

	c.beginOp()
	defer c.endOp()

	if err := c.provider.ChangePassword(ctx, email, newPassword); err != nil {
		return err
	}

	c.mu.Lock()
	if acc, ok := c.findLocked(id); ok {
		acc.Password = newPassword
	}
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()

	return nil
}

// RefreshMessages re-fetches the inbox for the active account using its
// current credentials. With no active account it is a no-op.
func (c *Controller) RefreshMessages(ctx context.Context) error {
	c.mu.Lock()
	acc, ok := c.findLocked(c.activeID)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	target := *acc
	gen := c.gen
	c.mu.Unlock()

	return c.loadMessages(ctx, target, gen)
}

// SelectMessage opens the message with the given uid from the displayed
// list. It reports whether the uid was found.
func (c *Controller) SelectMessage(uid int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.messages {
		if c.messages[i].UID == uid {
			cp := c.messages[i]
			c.selected = &cp
			c.notify()
			return true
		}
	}
	return false
}

// ClearSelection closes the currently open message, if any.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.notify()
	c.mu.Unlock()
}

// removeLocally removes the account from the collection and activates the
// preferred successor: a remaining account still flagged active, else the
// first one. The successor's messages are reloaded; with no accounts left
// the active pointer empties.
func (c *Controller) removeLocally(ctx context.Context, id string) {
	c.mu.Lock()

	wasActive := c.activeID == id
	kept := c.accounts[:0]
	for _, acc := range c.accounts {
		if acc.ID != id {
			kept = append(kept, acc)
		}
	}
	c.accounts = kept

	var (
		successor model.Account
		reload    bool
	)
	if wasActive {
		c.messages = []model.Message{}
		c.selected = nil
		c.gen++

		if len(c.accounts) > 0 {
			idx := 0
			for i := range c.accounts {
				if c.accounts[i].IsActive {
					idx = i
					break
				}
			}
			for i := range c.accounts {
				c.accounts[i].IsActive = i == idx
			}
			c.activeID = c.accounts[idx].ID
			successor = c.accounts[idx]
			reload = true
		} else {
			c.activeID = ""
		}
	}

	gen := c.gen
	c.persistLocked(ctx)
	c.mu.Unlock()
	c.notify()

	if reload {
		c.loadMessages(ctx, successor, gen)
	}
}

// loadMessages fetches the inbox for the given account and applies the
// result only if the activation generation is still current, so a fetch
// resolving after a switch or logout never overwrites the new state.
func (c *Controller) loadMessages(ctx context.Context, acc model.Account, gen uint64) error {
	c.beginOp()
	defer c.endOp()

	messages, err := c.provider.GetMessages(ctx, acc.Email, acc.Password)

	// Newest first; ties broken by uid so the order is deterministic.
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Date.Equal(messages[j].Date) {
			return messages[i].UID > messages[j].UID
		}
		return messages[i].Date.After(messages[j].Date)
	})

	c.mu.Lock()
	if gen == c.gen && c.activeID == acc.ID {
		c.messages = messages
		c.notify()
	}
	c.mu.Unlock()

	return err
}

// persistLocked mirrors the current collection to the store. Persistence
// failures are logged, not surfaced: the in-memory state stays canonical.
func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.store.SaveAccounts(ctx, c.accounts); err != nil {
		c.logger.WithError(err).Warn("persisting accounts failed")
	}
}

// beginOp and endOp track in-flight asynchronous operations so the
// presentation layer can disable concurrent submissions.
func (c *Controller) beginOp() {
	c.mu.Lock()
	c.busy++
	c.notify()
	c.mu.Unlock()
}

func (c *Controller) endOp() {
	c.mu.Lock()
	c.busy--
	c.notify()
	c.mu.Unlock()
}

// findLocked returns a pointer into the accounts slice. Callers must hold
// the mutex and must not retain the pointer past unlocking.
func (c *Controller) findLocked(id string) (*model.Account, bool) {
	if id == "" {
		return nil, false
	}
	for i := range c.accounts {
		if c.accounts[i].ID == id {
			return &c.accounts[i], true
		}
	}
	return nil, false
}

func (c *Controller) indexByEmailLocked(email string) int {
	for i := range c.accounts {
		if c.accounts[i].Email == email {
			return i
		}
	}
	return -1
}

// notify signals a state change without blocking; signals coalesce.
func (c *Controller) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// domainOf extracts the domain suffix from an email address.
func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
