package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin        Role = "admin"
	RolePhotographer Role = "photographer"
	RoleUser         Role = "user"
)

// ParseRole maps a client-supplied role name to a Role. The empty string
// yields RoleUser.
func ParseRole(s string) (Role, bool) {
	switch Role(normalizeWord(s)) {
	case "", RoleUser:
		return RoleUser, true
	case RolePhotographer:
		return RolePhotographer, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// CanUpload reports whether the role may publish photos.
func (r Role) CanUpload() bool {
	return r == RoleAdmin || r == RolePhotographer
}

// MethodKind names one way of proving control of an account.
type MethodKind string

const (
	MethodLocal   MethodKind = "local"
	MethodGoogle  MethodKind = "google"
	MethodDiscord MethodKind = "discord"
)

// ParseMethodKind maps a provider name to a MethodKind.
func ParseMethodKind(s string) (MethodKind, bool) {
	switch MethodKind(normalizeWord(s)) {
	case MethodLocal:
		return MethodLocal, true
	case MethodGoogle:
		return MethodGoogle, true
	case MethodDiscord:
		return MethodDiscord, true
	}
	return "", false
}

// IsProvider reports whether the kind is an external identity provider.
func (k MethodKind) IsProvider() bool {
	return k == MethodGoogle || k == MethodDiscord
}

// AuthMethod is one linked authentication method. ExternalID is empty for
// the local method.
type AuthMethod struct {
	Kind       MethodKind `json:"kind"                 bson:"kind"`
	ExternalID string     `json:"externalId,omitempty" bson:"external_id,omitempty"`
}

// Account is the persisted identity record, one per email address.
type Account struct {
	ID                  uuid.UUID    `json:"id"`
	Email               string       `json:"email"`
	FirstName           string       `json:"firstName"`
	LastName            string       `json:"lastName"`
	Phone               string       `json:"phone,omitempty"`
	Avatar              string       `json:"avatar"`
	Role                Role         `json:"role"`
	StudentID           string       `json:"studentId,omitempty"`
	PasswordHash        string       `json:"-"`
	AuthMethods         []AuthMethod `json:"authMethods"`
	PasswordResetToken  string       `json:"-"`
	PasswordResetExpiry *time.Time   `json:"-"`
	Version             int64        `json:"-"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`

	// pendingPassword is hashed by Store before the next write.
	pendingPassword string
}

// SetPassword stages a new plaintext password. The Store hashes it before
// persisting; the plaintext never reaches a Backend.
func (a *Account) SetPassword(plain string) {
	a.pendingPassword = plain
}

// HasMethod reports whether a method of the given kind is linked.
func (a *Account) HasMethod(kind MethodKind) bool {
	return a.methodIndex(kind) >= 0
}

// Method returns the linked method of the given kind.
func (a *Account) Method(kind MethodKind) (AuthMethod, bool) {
	if i := a.methodIndex(kind); i >= 0 {
		return a.AuthMethods[i], true
	}
	return AuthMethod{}, false
}

func (a *Account) methodIndex(kind MethodKind) int {
	for i, m := range a.AuthMethods {
		if m.Kind == kind {
			return i
		}
	}
	return -1
}

// addMethod appends a method unless one of the same kind exists. Returns
// false when nothing was added.
func (a *Account) addMethod(m AuthMethod) bool {
	if a.HasMethod(m.Kind) {
		return false
	}
	a.AuthMethods = append(a.AuthMethods, m)
	return true
}

func (a *Account) removeMethod(kind MethodKind) bool {
	i := a.methodIndex(kind)
	if i < 0 {
		return false
	}
	a.AuthMethods = append(a.AuthMethods[:i:i], a.AuthMethods[i+1:]...)
	return true
}

// needsLocalRepair reports the legacy shapes: a password hash with no local
// method entry, a local entry with no hash, or no methods array at all.
func (a *Account) needsLocalRepair() bool {
	if a.AuthMethods == nil {
		return true
	}
	return (a.PasswordHash != "") != a.HasMethod(MethodLocal)
}

// repairLocal restores the hash⇔local invariant. Returns true if the account
// changed.
func (a *Account) repairLocal() bool {
	changed := false
	if a.AuthMethods == nil {
		a.AuthMethods = []AuthMethod{}
		changed = true
	}
	if a.PasswordHash != "" && !a.HasMethod(MethodLocal) {
		a.AuthMethods = append([]AuthMethod{{Kind: MethodLocal}}, a.AuthMethods...)
		changed = true
	}
	if a.PasswordHash == "" && a.pendingPassword == "" && a.HasMethod(MethodLocal) {
		a.removeMethod(MethodLocal)
		changed = true
	}
	return changed
}

func (a *Account) clearReset() {
	a.PasswordResetToken = ""
	a.PasswordResetExpiry = nil
}

// ProviderProfile is the normalized payload an identity provider returns
// after its consent flow.
type ProviderProfile struct {
	Kind       MethodKind
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Avatar     string
}

// Session is the result of a successful authentication event.
type Session struct {
	Token   string   `json:"token"`
	Account *Account `json:"user"`
}
