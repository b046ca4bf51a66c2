package watchlist

// ownerState enumerates the owner context states. The zero value is
// unresolved: no identity answer has arrived yet.
type ownerState int

const (
	ownerUnresolved ownerState = iota
	ownerGuest
	ownerAuthenticated
)

// OwnerContext says who owns the watchlist and therefore which store is
// authoritative. Guest means the Local Store; Authenticated means the Remote
// Store for UserID.
type OwnerContext struct {
	state  ownerState
	userID string
}

// Guest returns the anonymous owner context.
func Guest() OwnerContext {
	return OwnerContext{state: ownerGuest}
}

// Authenticated returns the owner context for a signed-in user. An empty
// userID is treated as Guest.
func Authenticated(userID string) OwnerContext {
	if userID == "" {
		return Guest()
	}

	return OwnerContext{state: ownerAuthenticated, userID: userID}
}

// IsResolved reports whether an identity answer has been applied.
func (o OwnerContext) IsResolved() bool { return o.state != ownerUnresolved }

// IsGuest reports whether the Local Store is authoritative.
func (o OwnerContext) IsGuest() bool { return o.state == ownerGuest }

// IsAuthenticated reports whether the Remote Store is authoritative.
func (o OwnerContext) IsAuthenticated() bool { return o.state == ownerAuthenticated }

// UserID returns the signed-in user's id, or "" for guest and unresolved.
func (o OwnerContext) UserID() string { return o.userID }

// String returns "unresolved", "guest", or "user:<id>".
func (o OwnerContext) String() string {
	switch o.state {
	case ownerGuest:
		return "guest"
	case ownerAuthenticated:
		return "user:" + o.userID
	default:
		return "unresolved"
	}
}
