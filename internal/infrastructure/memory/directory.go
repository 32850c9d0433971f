// Package memory implements an in-process identity directory. It backs
// BACKEND_DRIVER=memory for local runs and the pipeline tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/usecase"
)

// Operation names used for failure injection and the call journal.
const (
	OpListPrincipals       = "ListPrincipals"
	OpListCredentials      = "ListCredentials"
	OpLastCredentialUse    = "LastCredentialUse"
	OpDisableCredential    = "DisableCredential"
	OpDeleteCredential     = "DeleteCredential"
	OpRemoveLoginProfile   = "RemoveLoginProfile"
	OpListAttachedPolicies = "ListAttachedPolicies"
	OpDetachPolicy         = "DetachPolicy"
	OpListInlinePolicies   = "ListInlinePolicies"
	OpDeleteInlinePolicy   = "DeleteInlinePolicy"
	OpListRoles            = "ListRoles"
	OpRemoveRole           = "RemoveRole"
	OpListGroups           = "ListGroups"
	OpRemoveFromGroup      = "RemoveFromGroup"
	OpDeletePrincipal      = "DeletePrincipal"

	// AnyTarget matches every target of an operation.
	AnyTarget = "*"
)

// User is the full state of one principal in the directory.
type User struct {
	Username           string               `json:"username"`
	CreatedAt          time.Time            `json:"created_at"`
	PasswordLastUsed   *time.Time           `json:"password_last_used,omitempty"`
	LoginProfile       bool                 `json:"login_profile"`
	Credentials        []domain.Credential  `json:"credentials,omitempty"`
	CredentialLastUsed map[string]time.Time `json:"credential_last_used,omitempty"`
	Policies           []domain.Policy      `json:"policies,omitempty"`
	InlinePolicies     []string             `json:"inline_policies,omitempty"`
	Roles              []string             `json:"roles,omitempty"`
	Groups             []string             `json:"groups,omitempty"`
}

func (u *User) clone() User {
	out := *u
	out.Credentials = append([]domain.Credential(nil), u.Credentials...)
	out.Policies = append([]domain.Policy(nil), u.Policies...)
	out.InlinePolicies = append([]string(nil), u.InlinePolicies...)
	out.Roles = append([]string(nil), u.Roles...)
	out.Groups = append([]string(nil), u.Groups...)
	if u.CredentialLastUsed != nil {
		out.CredentialLastUsed = make(map[string]time.Time, len(u.CredentialLastUsed))
		for k, v := range u.CredentialLastUsed {
			out.CredentialLastUsed[k] = v
		}
	}
	return out
}

// Directory holds users per account. It is safe for concurrent use.
type Directory struct {
	mu       sync.Mutex
	accounts map[string]map[string]*User
	denied   map[string]bool
	failures map[string]error
	calls    []string
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		accounts: make(map[string]map[string]*User),
		denied:   make(map[string]bool),
		failures: make(map[string]error),
	}
}

// LoadFile builds a directory from a JSON document mapping account IDs to users.
func LoadFile(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed map[string][]User
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode directory seed %s: %w", path, err)
	}
	dir := NewDirectory()
	for accountID, users := range seed {
		dir.EnsureAccount(accountID)
		for _, u := range users {
			dir.AddUser(accountID, u)
		}
	}
	return dir, nil
}

// EnsureAccount registers an account even when it has no users.
func (d *Directory) EnsureAccount(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[accountID]; !ok {
		d.accounts[accountID] = make(map[string]*User)
	}
}

// AddUser inserts or replaces a user.
func (d *Directory) AddUser(accountID string, u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, ok := d.accounts[accountID]
	if !ok {
		users = make(map[string]*User)
		d.accounts[accountID] = users
	}
	stored := u.clone()
	for i := range stored.Credentials {
		stored.Credentials[i].Username = u.Username
		if stored.Credentials[i].Status == "" {
			stored.Credentials[i].Status = domain.CredentialActive
		}
	}
	users[u.Username] = &stored
}

// User returns a snapshot of a user.
func (d *Directory) User(accountID, username string) (User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.accounts[accountID][username]
	if !ok {
		return User{}, false
	}
	return u.clone(), true
}

// Deny makes Assume fail with FORBIDDEN for accountID.
func (d *Directory) Deny(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[accountID] = true
}

// Fail injects err for op on target inside accountID. Use AnyTarget to match every target.
func (d *Directory) Fail(op, accountID, target string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[failureKey(op, accountID, target)] = err
}

// Calls returns the journal of mutating calls as "op account target".
func (d *Directory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Accounts lists the known account IDs.
func (d *Directory) Accounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.accounts))
	for id := range d.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Assume returns a backend scoped to accountID.
func (d *Directory) Assume(ctx context.Context, accountID string) (usecase.IdentityBackend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, known := d.accounts[accountID]
	if d.denied[accountID] || !known {
		return nil, domain.WrapError(domain.ErrCodeForbidden, "assume role",
			fmt.Errorf("account %s is not reachable", accountID))
	}
	return &backend{dir: d, accountID: accountID}, nil
}

func failureKey(op, accountID, target string) string {
	return op + "|" + accountID + "|" + target
}

// check returns the injected failure for the call, if any. Callers hold d.mu.
func (d *Directory) check(op, accountID, target string) error {
	if err, ok := d.failures[failureKey(op, accountID, target)]; ok {
		return err
	}
	if err, ok := d.failures[failureKey(op, accountID, AnyTarget)]; ok {
		return err
	}
	return nil
}

func (d *Directory) record(op, accountID, target string) {
	d.calls = append(d.calls, fmt.Sprintf("%s %s %s", op, accountID, target))
}

var _ usecase.SessionProvider = (*Directory)(nil)
