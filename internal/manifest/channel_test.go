package manifest

import "testing"

const sampleManifest = `
manifest-version = "2"
date = "2024-01-15"

[pkg.rust]
version = "1.75.0 (stable)"

[pkg.rust.target.x86_64-unknown-linux-gnu]
available = true
url = "https://static.rust-lang.org/dist/2024-01-15/rust-1.75.0-x86_64-unknown-linux-gnu.tar.gz"
hash = "aaaa"
xz_url = "https://static.rust-lang.org/dist/2024-01-15/rust-1.75.0-x86_64-unknown-linux-gnu.tar.xz"
xz_hash = "bbbb"

[pkg.rust.target.x86_64-pc-windows-msvc]
available = true
xz_url = "https://static.rust-lang.org/dist/2024-01-15/rust-1.75.0-x86_64-pc-windows-msvc.tar.xz"
xz_hash = "cccc"

[pkg.rust.target.aarch64-unknown-none]
available = false

[pkg.rustc-dev.target.x86_64-unknown-linux-gnu]
available = true
xz_url = "https://static.rust-lang.org/dist/2024-01-15/rustc-dev-1.75.0-x86_64-unknown-linux-gnu.tar.xz"
xz_hash = "dddd"

[pkg.rust-src.target."*"]
available = true
xz_url = "https://static.rust-lang.org/dist/2024-01-15/rust-src-1.75.0.tar.xz"
xz_hash = "eeee"
`

func TestParseAndPlatforms(t *testing.T) {
	c, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Date != "2024-01-15" {
		t.Fatalf("date = %q", c.Date)
	}
	platforms := AllPlatforms(c)
	if len(platforms.Unix) != 2 { // x86_64-unknown-linux-gnu, aarch64-unknown-none
		t.Fatalf("unix platforms = %v", platforms.Unix)
	}
	if len(platforms.Windows) != 1 || platforms.Windows[0] != "x86_64-pc-windows-msvc" {
		t.Fatalf("windows platforms = %v", platforms.Windows)
	}
}

func TestDownloadListExcludesRustcDevIncludesStar(t *testing.T) {
	c, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	selected := &Platforms{Unix: []string{"x86_64-unknown-linux-gnu"}}
	date, items := DownloadList(c, selected)
	if date != "2024-01-15" {
		t.Fatalf("date = %q", date)
	}
	var sawRustcDev, sawStar, sawLinux bool
	for _, it := range items {
		switch {
		case it.RelPath == "dist/2024-01-15/rustc-dev-1.75.0-x86_64-unknown-linux-gnu.tar.xz":
			sawRustcDev = true
		case it.RelPath == "dist/2024-01-15/rust-src-1.75.0.tar.xz":
			sawStar = true
		case it.RelPath == "dist/2024-01-15/rust-1.75.0-x86_64-unknown-linux-gnu.tar.xz":
			sawLinux = true
		}
	}
	if sawRustcDev {
		t.Fatalf("rustc-dev should be excluded: %+v", items)
	}
	if !sawStar {
		t.Fatalf("expected '*' target always included: %+v", items)
	}
	if !sawLinux {
		t.Fatalf("expected selected platform included: %+v", items)
	}
	for _, it := range items {
		if it.RelPath == "dist/2024-01-15/rust-1.75.0-x86_64-pc-windows-msvc.tar.xz" {
			t.Fatalf("unselected platform should be excluded: %+v", items)
		}
	}
}

func TestRelPathFromXZURL(t *testing.T) {
	got := relPathFromXZURL("https://static.rust-lang.org/dist/2024-01-15/foo.tar.xz")
	want := "dist/2024-01-15/foo.tar.xz"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
