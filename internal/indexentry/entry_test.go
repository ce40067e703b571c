package indexentry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetInsertDedup(t *testing.T) {
	s := NewSet()
	e := Entry{Name: "serde", Vers: "1.0.0", Cksum: "abc", Features: map[string][]string{}}
	added, err := s.Insert(e)
	if err != nil || !added {
		t.Fatalf("first insert: added=%v err=%v", added, err)
	}
	added, err = s.Insert(e)
	if err != nil || added {
		t.Fatalf("duplicate insert should no-op: added=%v err=%v", added, err)
	}
	if len(s.Entries()) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(s.Entries()))
	}
}

func TestHasVersionIgnoresOtherFields(t *testing.T) {
	s := NewSet()
	s.Insert(Entry{Name: "serde", Vers: "1.0.0", Cksum: "abc", Features: map[string][]string{}})
	if !s.HasVersion("serde", "1.0.0") {
		t.Fatalf("expected HasVersion true")
	}
	if s.HasVersion("serde", "1.0.1") {
		t.Fatalf("expected HasVersion false for different version")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	data := []byte(`{"name":"serde","vers":"1.0.0","deps":[],"cksum":"abc","features":{},"yanked":false}
{"name":"serde","vers":"1.0.1","deps":[],"cksum":"def","features":{},"yanked":false}
`)
	s, err := DecodeFile(data)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if len(s.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(s.Entries()))
	}
	out, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s2, err := DecodeFile(out)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if len(s2.Entries()) != 2 {
		t.Fatalf("round trip lost entries: %d", len(s2.Entries()))
	}
}

func TestDecodeMalformedLineFails(t *testing.T) {
	_, err := DecodeFile([]byte("not json\n"))
	if err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDecodeEncodeRoundTripPreservesFieldShape(t *testing.T) {
	link := "openssl-sys"
	want := Entry{
		Name: "demo",
		Vers: "2.1.0",
		Deps: []Dependency{
			{Name: "serde", Req: "^1.0", Features: []string{"derive"}, DefaultFeatures: true},
		},
		Cksum:    "abc123",
		Features: map[string][]string{"default": {"std"}},
		Yanked:   false,
		Links:    &link,
	}
	encoded, err := (&Set{order: []Entry{want}, seen: map[string]struct{}{}}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s, err := DecodeFile(encoded)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	got := s.Entries()
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Fatalf("round trip changed entry shape (-want +got):\n%s", diff)
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion("1.2.3"); err != nil {
		t.Fatalf("valid version rejected: %v", err)
	}
	if err := ValidateVersion("not-a-version"); err == nil {
		t.Fatalf("expected invalid version to be rejected")
	}
}
