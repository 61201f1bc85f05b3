package jid

import "testing"

func TestParseBasic(t *testing.T) {
	cases := []struct {
		in                       string
		local, domain, resource string
	}{
		{"juliet@example.com", "juliet", "example.com", ""},
		{"juliet@example.com/balcony", "juliet", "example.com", "balcony"},
		{"example.com", "", "example.com", ""},
		{"example.com/res", "", "example.com", "res"},
		{"JULIET@Example.COM", "juliet", "example.com", ""},
	}
	for _, c := range cases {
		j, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if j.Localpart() != c.local || j.Domainpart() != c.domain || j.Resourcepart() != c.resource {
			t.Errorf("Parse(%q) = %+v, want local=%q domain=%q resource=%q", c.in, j, c.local, c.domain, c.resource)
		}
	}
}

func TestParseRejectsEmptyParts(t *testing.T) {
	for _, in := range []string{"", "@example.com", "user@", "example.com/"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error, got none", in)
		}
	}
}

func TestBareStripsResource(t *testing.T) {
	j := MustParse("juliet@example.com/balcony")
	bare := j.Bare()
	if bare.Resourcepart() != "" {
		t.Errorf("Bare() kept resource: %q", bare.Resourcepart())
	}
	if bare.String() != "juliet@example.com" {
		t.Errorf("Bare().String() = %q", bare.String())
	}
}

func TestEqualCaseInsensitiveOnLocalAndDomain(t *testing.T) {
	a := MustParse("juliet@example.com")
	b := MustParse("JULIET@EXAMPLE.COM")
	if !a.Equal(b) {
		t.Errorf("expected case-insensitive equality, got a=%+v b=%+v", a, b)
	}
}

func TestEqualExactOnResource(t *testing.T) {
	a := MustParse("juliet@example.com/Home")
	b := MustParse("juliet@example.com/home")
	if a.Equal(b) {
		t.Errorf("resourcepart must compare exactly, not case-insensitively")
	}
}

func TestResourceQueryParse(t *testing.T) {
	base, query := ParseResourceQuery("laptop?k1=v1&k2=v2")
	if base != "laptop" {
		t.Errorf("base = %q, want laptop", base)
	}
	if query["k1"] != "v1" || query["k2"] != "v2" {
		t.Errorf("query = %+v", query)
	}
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	s := `user name@host/foo:bar`
	esc := Escape(s)
	if esc == s {
		t.Errorf("Escape did not change %q", s)
	}
	if got := Unescape(esc); got != s {
		t.Errorf("Unescape(Escape(%q)) = %q", s, got)
	}
}

func TestEqualPartComparesOnlySelectedComponents(t *testing.T) {
	a := MustParse("juliet@example.com/Home")
	b := MustParse("juliet@example.com/Work")
	c := MustParse("romeo@example.com/Home")

	if !a.EqualPart(b, PartBare) {
		t.Errorf("same bare JID must match under PartBare")
	}
	if a.EqualPart(b, PartFull) {
		t.Errorf("different resources must not match under PartFull")
	}
	if !a.EqualPart(c, PartDomain) {
		t.Errorf("same domain must match under PartDomain")
	}
	if a.EqualPart(c, PartLocal) {
		t.Errorf("different localparts must not match under PartLocal")
	}
	if !a.EqualPart(c, PartResource) {
		t.Errorf("same resource must match under PartResource")
	}
}

func TestAppendUniqueDeduplicates(t *testing.T) {
	list := AppendUnique(nil, MustParse("a@example.com"))
	list = AppendUnique(list, MustParse("b@example.com"))
	list = AppendUnique(list, MustParse("A@Example.COM"))
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2 (case-insensitive dedup)", len(list))
	}
	list = AppendUnique(list, MustParse("a@example.com/res"))
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3 (full JID differs from bare)", len(list))
	}
}

func TestParseCachesResult(t *testing.T) {
	j1 := MustParse("cache-test@example.com")
	j2 := MustParse("cache-test@example.com")
	if !j1.Equal(j2) {
		t.Errorf("cached parse diverged")
	}
}
