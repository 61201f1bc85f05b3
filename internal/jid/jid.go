// Package jid implements XMPP addresses (RFC 7622) with stringprep-style
// normalization and a small age-evicted parse cache.
package jid

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// JID is an immutable XMPP address of the form [local@]domain[/resource].
type JID struct {
	local    string
	domain   string
	resource string
}

// cacheTTL is how long a parsed JID stays in the normalization cache before
// it is swept. mcjab re-parses the same handful of JIDs constantly (every
// incoming stanza), so caching the expensive precis/idna pass matters.
const cacheTTL = 15 * time.Minute

type cacheEntry struct {
	jid   JID
	stamp time.Time
}

var (
	cacheMu sync.Mutex
	cache   = make(map[string]cacheEntry)
	sweepOn sync.Once
)

func startSweeper() {
	go func() {
		t := time.NewTicker(cacheTTL)
		defer t.Stop()
		for now := range t.C {
			cacheMu.Lock()
			for k, e := range cache {
				if now.Sub(e.stamp) > cacheTTL {
					delete(cache, k)
				}
			}
			cacheMu.Unlock()
		}
	}()
}

// Parse parses and normalizes s into a JID, consulting the cache first.
func Parse(s string) (JID, error) {
	cacheMu.Lock()
	if e, ok := cache[s]; ok && time.Since(e.stamp) <= cacheTTL {
		cacheMu.Unlock()
		return e.jid, nil
	}
	cacheMu.Unlock()

	j, err := parseUncached(s)
	if err != nil {
		return JID{}, err
	}

	sweepOn.Do(startSweeper)
	cacheMu.Lock()
	// Always take the freshly parsed value, never a value captured before
	// a retry — a stale pointer here would resurrect an old bug class.
	cache[s] = cacheEntry{jid: j, stamp: time.Now()}
	cacheMu.Unlock()
	return j, nil
}

// MustParse is Parse but panics on error. Reserved for tests and fixtures.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

func parseUncached(s string) (JID, error) {
	if s == "" {
		return JID{}, fmt.Errorf("jid: empty address")
	}
	if len(s) > 3071 {
		return JID{}, fmt.Errorf("jid: address exceeds maximum length")
	}

	local, rest := "", s

	// Resourcepart splits first: everything after the first unescaped '/'.
	var domainAndLocal, resource string
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		domainAndLocal = rest[:idx]
		resource = rest[idx+1:]
		if resource == "" {
			return JID{}, fmt.Errorf("jid: empty resourcepart")
		}
	} else {
		domainAndLocal = rest
	}

	if idx := strings.IndexByte(domainAndLocal, '@'); idx >= 0 {
		local = domainAndLocal[:idx]
		domainAndLocal = domainAndLocal[idx+1:]
		if local == "" {
			return JID{}, fmt.Errorf("jid: empty localpart")
		}
	}
	domain := domainAndLocal
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return JID{}, fmt.Errorf("jid: empty domainpart")
	}

	// Each component, independently, must fit in 1023 bytes: the
	// whole-string 3071 check above doesn't catch e.g. a 2000-byte
	// localpart paired with a 1000-byte domain, which sums under 3071 but
	// blows the per-component limit on the localpart alone.
	if len(local) > 1023 {
		return JID{}, fmt.Errorf("jid: localpart exceeds maximum length")
	}
	if len(domain) > 1023 {
		return JID{}, fmt.Errorf("jid: domainpart exceeds maximum length")
	}
	if len(resource) > 1023 {
		return JID{}, fmt.Errorf("jid: resourcepart exceeds maximum length")
	}

	normLocal, err := normalizeLocal(local)
	if err != nil {
		return JID{}, fmt.Errorf("jid: localpart %q: %w", local, err)
	}
	normDomain, err := normalizeDomain(domain)
	if err != nil {
		return JID{}, fmt.Errorf("jid: domainpart %q: %w", domain, err)
	}
	normResource, err := normalizeResource(resource)
	if err != nil {
		return JID{}, fmt.Errorf("jid: resourcepart %q: %w", resource, err)
	}

	return JID{local: normLocal, domain: normDomain, resource: normResource}, nil
}

// normalizeLocal applies the nodeprep-equivalent profile: case mapping and
// forbidden-character rejection per RFC 7622 §3.3.1, via precis.
func normalizeLocal(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if strings.ContainsAny(s, "\"&'/:<>@") {
		return "", fmt.Errorf("forbidden character")
	}
	out, err := precis.UsernameCaseMapped.String(s)
	if err != nil {
		return "", err
	}
	return out, nil
}

// normalizeDomain applies the nameprep-equivalent profile via IDNA, falling
// back to lower-casing a literal IPv6/IPv4 address unchanged.
func normalizeDomain(s string) (string, error) {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return strings.ToLower(s), nil
	}
	out, err := idna.Lookup.ToUnicode(s)
	if err != nil {
		// Fall back to simple case folding rather than rejecting outright;
		// many internal/test domains aren't valid IDNA labels.
		return strings.ToLower(s), nil
	}
	return out, nil
}

// normalizeResource applies the resourceprep-equivalent profile (an opaque
// string profile per RFC 7622 §3.4.1), preserving case.
func normalizeResource(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	out, err := precis.OpaqueString.String(s)
	if err != nil {
		return "", err
	}
	return out, nil
}

// New builds a JID from already-normalized parts without validation.
func New(local, domain, resource string) JID {
	return JID{local: local, domain: domain, resource: resource}
}

func (j JID) Localpart() string { return j.local }
func (j JID) Domainpart() string { return j.domain }
func (j JID) Resourcepart() string { return j.resource }

// Bare returns the JID with any resourcepart stripped.
func (j JID) Bare() JID {
	return JID{local: j.local, domain: j.domain}
}

// WithResource returns a copy of the bare JID with resource set.
func (j JID) WithResource(resource string) (JID, error) {
	norm, err := normalizeResource(resource)
	if err != nil {
		return JID{}, err
	}
	return JID{local: j.local, domain: j.domain, resource: norm}, nil
}

// IsBare reports whether the JID has no resourcepart.
func (j JID) IsBare() bool { return j.resource == "" }

// Equal compares two JIDs by their normalized parts (case-insensitive on
// local/domain by construction, exact on resource).
func (j JID) Equal(other JID) bool {
	return j.local == other.local && j.domain == other.domain && j.resource == other.resource
}

// Part selects which JID components EqualPart compares.
type Part int

const (
	PartLocal Part = 1 << iota
	PartDomain
	PartResource
	PartBare = PartLocal | PartDomain
	PartFull = PartBare | PartResource
)

// EqualPart compares only the components selected by mask, with the same
// case rules as Equal.
func (j JID) EqualPart(other JID, mask Part) bool {
	if mask&PartLocal != 0 && j.local != other.local {
		return false
	}
	if mask&PartDomain != 0 && j.domain != other.domain {
		return false
	}
	if mask&PartResource != 0 && j.resource != other.resource {
		return false
	}
	return true
}

// AppendUnique appends j to list unless an equal JID is already present,
// and returns the (possibly grown) list.
func AppendUnique(list []JID, j JID) []JID {
	for _, have := range list {
		if have.Equal(j) {
			return list
		}
	}
	return append(list, j)
}

// String renders the JID in [local@]domain[/resource] form.
func (j JID) String() string {
	var b strings.Builder
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

func (j *JID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// ParseResourceQuery parses the legacy "resource?key=value&key=value" form
// some older clients accept on the command line, splitting the
// resourcepart from a trailing query string.
func ParseResourceQuery(resource string) (base string, query map[string]string) {
	idx := strings.IndexByte(resource, '?')
	if idx < 0 {
		return resource, nil
	}
	base = resource[:idx]
	query = make(map[string]string)
	for _, pair := range strings.Split(resource[idx+1:], "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			query[kv[0]] = kv[1]
		} else {
			query[kv[0]] = ""
		}
	}
	return base, query
}

// Escape applies XEP-0106 JID escaping to a localpart-bound string.
func Escape(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\5c`,
		` `, `\20`,
		`"`, `\22`,
		`&`, `\26`,
		`'`, `\27`,
		`/`, `\2f`,
		`:`, `\3a`,
		`<`, `\3c`,
		`>`, `\3e`,
		`@`, `\40`,
	)
	return replacer.Replace(s)
}

// Unescape reverses Escape.
func Unescape(s string) string {
	replacer := strings.NewReplacer(
		`\5c`, `\`,
		`\20`, ` `,
		`\22`, `"`,
		`\26`, `&`,
		`\27`, `'`,
		`\2f`, `/`,
		`\3a`, `:`,
		`\3c`, `<`,
		`\3e`, `>`,
		`\40`, `@`,
	)
	return replacer.Replace(s)
}
