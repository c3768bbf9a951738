package grantstore

import (
	"strings"
	"unicode"

	"github.com/stoewer/go-strcase"
)

// CollectionName derives the collection name for an entity type name.
//
// The rule is snake_case: words are split on case changes ("AccessToken")
// and on any rune that is not a letter or digit ('-', '_', ' ', '.', '/'),
// lowercased, and joined with a single '_'. Leading and trailing separators
// are dropped. "AccessToken", "accessToken", "access-token", "access.token"
// and "ACCESS_TOKEN" all map to "access_token".
func CollectionName(entityType string) string {
	snake := strcase.SnakeCase(splitUnicodeCase(strings.TrimSpace(entityType)))
	parts := strings.FieldsFunc(snake, isSeparator)
	return strings.ToLower(strings.Join(parts, "_"))
}

// splitUnicodeCase inserts '_' at the case changes strcase cannot see: the
// ones where either side of the boundary is a non-ASCII letter.
func splitUnicodeCase(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range rs {
		if i > 0 && unicode.IsUpper(r) && touchesNonASCII(rs, i) {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

func touchesNonASCII(rs []rune, i int) bool {
	if rs[i] > unicode.MaxASCII || rs[i-1] > unicode.MaxASCII {
		return true
	}
	return i+1 < len(rs) && rs[i+1] > unicode.MaxASCII
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
}

// ProviderModels lists the entity types an OpenID provider persists.
// Registering all of them up front makes grant cascades reach every
// collection a grant can touch.
var ProviderModels = []string{
	"Session",
	"AccessToken",
	"AuthorizationCode",
	"RefreshToken",
	"DeviceCode",
	"ClientCredentials",
	"Client",
	"InitialAccessToken",
	"RegistrationAccessToken",
	"Interaction",
	"ReplayDetection",
	"PushedAuthorizationRequest",
	"Grant",
	"BackchannelAuthenticationRequest",
}
