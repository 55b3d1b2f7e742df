package constants

import "testing"

func TestFormatForMime(t *testing.T) {
	cases := []struct {
		mime string
		want Format
	}{
		{"application/pdf", PDF},
		{" Application/PDF ", PDF},
		{"image/png", IMAGE},
		{"image/jpeg", IMAGE},
		{"image/heic", IMAGE},
		{"text/plain", ""},
		{"audio/ogg", ""},
		{"application/zip", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := FormatForMime(tc.mime); got != tc.want {
			t.Errorf("FormatForMime(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestMapExtToFormat(t *testing.T) {
	cases := []struct {
		ext  string
		want Format
	}{
		{"pdf", PDF},
		{"png", IMAGE},
		{"heic", IMAGE},
		{"txt", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := MapExtToFormat(tc.ext); got != tc.want {
			t.Errorf("MapExtToFormat(%q) = %q, want %q", tc.ext, got, tc.want)
		}
	}
}

func TestNormalizeExt(t *testing.T) {
	if got := NormalizeExt(".PDF"); got != "pdf" {
		t.Errorf("NormalizeExt(.PDF) = %q", got)
	}
	if got := NormalizeExt("jpeg"); got != "jpeg" {
		t.Errorf("NormalizeExt(jpeg) = %q", got)
	}
}

func TestMimeForExtCoversAllowedExtensions(t *testing.T) {
	for ext := range AllowedExtensions {
		if MimeForExt(ext) == "" {
			t.Errorf("allowed extension %q has no mime type", ext)
		}
	}
	if MimeForExt("txt") != "" {
		t.Error("txt should have no mime mapping")
	}
}

func TestDefaultPriority(t *testing.T) {
	if single, batch := DefaultPriority(LaneSingle), DefaultPriority(LaneBatch); single >= batch {
		t.Errorf("single lane priority %d should sort before batch %d", single, batch)
	}
}
