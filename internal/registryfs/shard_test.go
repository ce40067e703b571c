package registryfs

import "testing"

func TestShard(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"a", "1"},
		{"ab", "2"},
		{"abc", "3/a"},
		{"serde", "se/rd"},
		{"Tokio", "to/ki"},
	}
	for _, c := range cases {
		if got := Shard(c.name); got != c.want {
			t.Errorf("Shard(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestCratePath(t *testing.T) {
	got := CratePath("serde", "1.0.0")
	want := "se/rd/serde-1.0.0.crate"
	if got != want {
		t.Errorf("CratePath = %q, want %q", got, want)
	}
}

func TestIndexEntryPath(t *testing.T) {
	got := IndexEntryPath("Serde")
	want := "se/rd/serde"
	if got != want {
		t.Errorf("IndexEntryPath = %q, want %q", got, want)
	}
}
