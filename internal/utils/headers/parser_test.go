package headers

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	got, err := Parse([]string{"user-agent: Bot", "Accept: text/html", "X-Token: a:b", "accept: application/json"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"User-Agent": "Bot",
		"Accept":     "application/json",
		"X-Token":    "a:b",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %#v, want %#v", got, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, line := range []string{"BadHeader", ": value", "Bad Name: x"} {
		if _, err := Parse([]string{line}); err == nil {
			t.Errorf("Parse(%q) should fail", line)
		}
	}
}
