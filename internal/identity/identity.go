// ABOUTME: Participant identity spaces and handshake claim parsing
// ABOUTME: Tokens are opaque alphanumeric strings; malformed claims degrade to absent

package identity

// Space is one of the two disjoint namespaces an identity token belongs to.
type Space string

const (
	SpaceUser   Space = "user"
	SpaceExpert Space = "expert"
)

// Spaces lists both identity spaces in direct-delivery lookup order
// (user space is always checked first).
var Spaces = []Space{SpaceUser, SpaceExpert}

// Placeholder is the literal value JavaScript clients send for a missing
// handshake claim. It must be treated exactly like a true absence.
const Placeholder = "undefined"

// Identity is a participant identity resolved to its space. It is resolved
// once at connection-identification time and carried afterward, never
// re-derived from payload fields.
type Identity struct {
	Space Space
	Token string
}

// User wraps a token as an end-user identity.
func User(token string) Identity {
	return Identity{Space: SpaceUser, Token: token}
}

// Expert wraps a token as an expert identity.
func Expert(token string) Identity {
	return Identity{Space: SpaceExpert, Token: token}
}

func (id Identity) String() string {
	return string(id.Space) + ":" + id.Token
}

// ValidToken reports whether s can serve as an identity token. Tokens are
// opaque to the relay, but the charset is restricted to [0-9A-Za-z] so a
// token can never contain the room-key separator.
func ValidToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ParseClaim interprets a raw handshake parameter as an identity claim for
// the given space. Absence has three spellings that all behave identically:
// an empty value, the literal placeholder, and a token that fails ValidToken.
func ParseClaim(space Space, raw string) (Identity, bool) {
	if raw == "" || raw == Placeholder || !ValidToken(raw) {
		return Identity{}, false
	}
	return Identity{Space: space, Token: raw}, true
}
