package crawler

import "testing"

func TestBlocklist(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		bl := NewBlocklist([]string{"localhost"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.IsBlocked("LOCALHOST") {
			t.Fatalf("expected localhost to be blocked")
		}
		if bl.IsBlocked("sub.localhost.example") {
			t.Fatalf("did not expect unrelated hosts to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := NewBlocklist([]string{"*.internal", ".local"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		cases := []struct {
			host    string
			blocked bool
		}{
			{"metadata.google.internal", true},
			{"printer.local", true},
			{"internal", true},
			{"internal.example.com", false},
			{"example.com", false},
		}
		for _, tc := range cases {
			if got := bl.IsBlocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("url helper", func(t *testing.T) {
		bl := NewBlocklist([]string{"169.254.169.254"})
		if bl.AllowsURL("http://169.254.169.254/latest/meta-data") {
			t.Fatalf("expected metadata address to be refused")
		}
		if !bl.AllowsURL("https://shop.example.com") {
			t.Fatalf("expected public host to be allowed")
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		if bl := NewBlocklist([]string{" ", "*."}); bl != nil {
			t.Fatalf("expected nil blocklist for unusable patterns")
		}
	})

	t.Run("nil blocklist", func(t *testing.T) {
		var bl *Blocklist
		if bl.IsBlocked("anything") {
			t.Fatalf("nil blocklist should never block")
		}
	})
}
