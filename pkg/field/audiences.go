package field

import (
	"encoding/json"
	"sort"
	"strings"
)

// Audiences is the set of client ids a token is intended for. It
// serializes as a JSON array of client-id strings and, for ID Token
// compatibility, parses either an array or a single string.
type Audiences struct {
	value map[ClientId]struct{}
}

// NewAudiences builds the set from a comma-separated client-id string,
// e.g. "xxxx,yyyy,zzzz".
func NewAudiences(clientIDs string) (Audiences, error) {
	set := make(map[ClientId]struct{})
	for _, s := range strings.Split(clientIDs, ",") {
		cid, err := NewClientId(s)
		if err != nil {
			return Audiences{}, err
		}
		set[cid] = struct{}{}
	}
	return Audiences{value: set}, nil
}

// AudiencesOf builds the set from already-validated client ids.
func AudiencesOf(ids ...ClientId) Audiences {
	set := make(map[ClientId]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Audiences{value: set}
}

func (a Audiences) Contains(cid ClientId) bool {
	_, ok := a.value[cid]
	return ok
}

// GetOne returns an arbitrary element of the set, or false if empty.
func (a Audiences) GetOne() (ClientId, bool) {
	for cid := range a.value {
		return cid, true
	}
	return ClientId{}, false
}

func (a Audiences) Len() int { return len(a.value) }

// Strings returns the sorted client ids.
func (a Audiences) Strings() []string {
	out := make([]string, 0, len(a.value))
	for cid := range a.value {
		out = append(out, cid.String())
	}
	sort.Strings(out)
	return out
}

func (a Audiences) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Strings())
}

func (a *Audiences) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		// single-string form
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		list = []string{s}
	}
	set := make(map[ClientId]struct{}, len(list))
	for _, s := range list {
		cid, err := NewClientId(s)
		if err != nil {
			return err
		}
		set[cid] = struct{}{}
	}
	a.value = set
	return nil
}
