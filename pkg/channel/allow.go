package channel

import "strings"

// AllowList restricts which platform users may talk to the gateway. The zero
// value allows everyone.
type AllowList struct {
	ids map[string]struct{}
}

// NewAllowList normalizes entries into a lookup set. Blank entries are
// dropped and a leading "@" is ignored, so "@alice" and "alice" match.
func NewAllowList(entries []string) AllowList {
	ids := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if id := normalizeID(entry); id != "" {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return AllowList{}
	}

	return AllowList{ids: ids}
}

// Empty reports whether the list admits everyone.
func (a AllowList) Empty() bool {
	return len(a.ids) == 0
}

// Allows reports whether any of the identities of one user is listed. Adapters
// pass the numeric id together with the username where the platform has both.
func (a AllowList) Allows(identities ...string) bool {
	if a.Empty() {
		return true
	}

	for _, identity := range identities {
		if _, ok := a.ids[normalizeID(identity)]; ok {
			return true
		}
	}

	return false
}

func normalizeID(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), "@")
}
