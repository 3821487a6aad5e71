package textdiff

import "testing"

func TestComputeIsolatesChangedRegion(t *testing.T) {
	tests := []struct {
		name            string
		previous        string
		next            string
		expectedAdded   string
		expectedRemoved string
	}{
		{
			name:            "insertion in the middle",
			previous:        "hello world",
			next:            "hello there world",
			expectedAdded:   "there ",
			expectedRemoved: "",
		},
		{
			name:            "deletion in the middle",
			previous:        "hello there world",
			next:            "hello world",
			expectedAdded:   "",
			expectedRemoved: "there ",
		},
		{
			name:            "replacement",
			previous:        "the quick fox",
			next:            "the lazy fox",
			expectedAdded:   "lazy",
			expectedRemoved: "quick",
		},
		{
			name:            "append at end",
			previous:        "draft",
			next:            "draft v2",
			expectedAdded:   " v2",
			expectedRemoved: "",
		},
		{
			name:            "prepend at start",
			previous:        "notes",
			next:            "meeting notes",
			expectedAdded:   "meeting ",
			expectedRemoved: "",
		},
		{
			name:            "empty previous",
			previous:        "",
			next:            "brand new",
			expectedAdded:   "brand new",
			expectedRemoved: "",
		},
		{
			name:            "cleared content",
			previous:        "everything",
			next:            "",
			expectedAdded:   "",
			expectedRemoved: "everything",
		},
		{
			name:            "repeated characters keep suffix inside prefix bound",
			previous:        "aaa",
			next:            "aaaa",
			expectedAdded:   "a",
			expectedRemoved: "",
		},
		{
			name:            "multibyte runes",
			previous:        "café au lait",
			next:            "café crème au lait",
			expectedAdded:   "crème ",
			expectedRemoved: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			diff := Compute(tc.previous, tc.next)
			if diff.Added != tc.expectedAdded {
				t.Fatalf("expected added %q, got %q", tc.expectedAdded, diff.Added)
			}
			if diff.Removed != tc.expectedRemoved {
				t.Fatalf("expected removed %q, got %q", tc.expectedRemoved, diff.Removed)
			}
		})
	}
}

func TestComputeReconstructsNext(t *testing.T) {
	pairs := [][2]string{
		{"hello world", "hello there world"},
		{"abc", "axc"},
		{"", "x"},
		{"x", ""},
		{"shared prefix and suffix", "shared middle and suffix"},
		{"aaaa", "aa"},
		{"один два три", "один три"},
	}

	for _, pair := range pairs {
		previous, next := pair[0], pair[1]
		diff := Compute(previous, next)

		previousRunes := []rune(previous)
		removedRunes := []rune(diff.Removed)
		addedRunes := []rune(diff.Added)

		// Locate the common-prefix boundary the same way Compute does and
		// splice added in place of removed.
		nextRunes := []rune(next)
		shorter := len(previousRunes)
		if len(nextRunes) < shorter {
			shorter = len(nextRunes)
		}
		start := 0
		for start < shorter && previousRunes[start] == nextRunes[start] {
			start++
		}

		reconstructed := string(previousRunes[:start]) + string(addedRunes) + string(previousRunes[start+len(removedRunes):])
		if reconstructed != next {
			t.Fatalf("diff of %q -> %q did not reconstruct: got %q", previous, next, reconstructed)
		}
	}
}

func TestComputeIdenticalInputs(t *testing.T) {
	values := []string{"", "x", "same content", "{\"text\":\"same\"}"}
	for _, value := range values {
		diff := Compute(value, value)
		if !diff.IsEmpty() {
			t.Fatalf("expected empty diff for identical input %q, got %#v", value, diff)
		}
	}
}
