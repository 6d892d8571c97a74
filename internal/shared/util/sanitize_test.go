package util

import "testing"

func TestSanitizeFileName(t *testing.T) {
	got, err := SanitizeFileName(" shelf/photo.png ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "shelf_photo.png" {
		t.Fatalf("unexpected name: %q", got)
	}
	for _, bad := range []string{"", "   ", "../etc/passwd"} {
		if _, err := SanitizeFileName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCleanStorageKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2026/10/17/label_x.png", want: "2026/10/17/label_x.png"},
		{in: "a//b/./c.png", want: "a/b/c.png"},
		{in: "../escape.png", wantErr: true},
		{in: "/abs.png", wantErr: true},
		{in: "a\\b.png", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanStorageKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("CleanStorageKey(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("CleanStorageKey(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
