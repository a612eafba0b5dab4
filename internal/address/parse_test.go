package address

import "testing"

func TestParse_Simple(t *testing.T) {
	got := Parse("jane@beta.io")
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Address != "jane@beta.io" || got[0].Name != "" || got[0].Domain != "beta.io" {
		t.Errorf("got %+v", got[0])
	}
}

func TestParse_DisplayName(t *testing.T) {
	got := Parse(`"Jane Roe" <jane@beta.io>`)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Address != "jane@beta.io" || got[0].Name != "Jane Roe" {
		t.Errorf("got %+v", got[0])
	}
}

func TestParse_MultipleRecipients(t *testing.T) {
	got := Parse("a@beta.io, b@beta.io")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Address != "a@beta.io" || got[1].Address != "b@beta.io" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_CommaInsideQuotedName(t *testing.T) {
	got := Parse(`"Roe, Jane" <jane@beta.io>, b@beta.io`)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Name != "Roe, Jane" || got[0].Address != "jane@beta.io" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Address != "b@beta.io" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestParse_CaseLowercased(t *testing.T) {
	got := Parse("Jane@BETA.IO")
	if len(got) != 1 || got[0].Address != "jane@beta.io" || got[0].Domain != "beta.io" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_InvalidDropped(t *testing.T) {
	cases := []string{
		"not-an-address",
		"a@@b.com",
		"@b.com",
		"a@",
		"a@b",       // no dot on the right side
		"<>",        // empty angle bracket
		"",
	}
	for _, c := range cases {
		if got := Parse(c); len(got) != 0 {
			t.Errorf("Parse(%q) = %+v, want empty", c, got)
		}
	}
}

func TestParse_MixedValidInvalid(t *testing.T) {
	got := Parse("not-an-address, good@beta.io")
	if len(got) != 1 || got[0].Address != "good@beta.io" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_NoAngleBracketsNoName(t *testing.T) {
	got := Parse("me@acme.com")
	if len(got) != 1 || got[0].Name != "" {
		t.Errorf("got %+v", got)
	}
}

func TestParse_EmptyHeader(t *testing.T) {
	if got := Parse(""); len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}
