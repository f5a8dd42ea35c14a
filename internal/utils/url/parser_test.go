package urlutil

import "testing"

func TestValidate(t *testing.T) {
	valid := []string{
		"http://example.com",
		"https://example.com/path",
	}
	for _, u := range valid {
		if err := ValidateURL(u); err != nil {
			t.Fatalf("expected valid, got error: %v", err)
		}
	}

	invalid := []string{"ftp://example.com", "//example.com", "http:///"}
	for _, u := range invalid {
		if err := ValidateURL(u); err == nil {
			t.Fatalf("expected invalid for %s", u)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM":                 "https://example.com/",
		"https://example.com:443/a/../b":      "https://example.com/b",
		"http://example.com:80/docs/#intro":   "http://example.com/docs/",
		"http://example.com:8080/x?q=1":       "http://example.com:8080/x?q=1",
		"https://user:pw@example.com/./a//b/": "https://example.com/a/b/",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"mailto:a@b.c", "ftp://example.com/", "/relative"} {
		if _, err := Normalize(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestResolveAndNormalize(t *testing.T) {
	got, err := ResolveAndNormalize("https://example.com/docs/intro", "../api#x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://example.com/api" {
		t.Errorf("got %q", got)
	}
	for _, href := range []string{"#top", "javascript:void(0)", "mailto:x@y.z", ""} {
		if _, err := ResolveAndNormalize("https://example.com/", href); err == nil {
			t.Errorf("expected %q to be rejected", href)
		}
	}
}

func TestDomainMatches(t *testing.T) {
	if !DomainMatches("example.com", "example.com", false) {
		t.Error("exact host should match")
	}
	if DomainMatches("docs.example.com", "example.com", false) {
		t.Error("subdomain must not match without subdomain inclusion")
	}
	if !DomainMatches("docs.example.com", "example.com", true) {
		t.Error("subdomain should match with subdomain inclusion")
	}
	if DomainMatches("badexample.com", "example.com", true) {
		t.Error("suffix match must respect label boundary")
	}
}
