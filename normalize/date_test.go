package normalize

import (
	"testing"
	"time"
)

func TestParseAuctionDate_Layouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		// CET (winter): UTC+1
		{"2024-03-15 10:00", time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
		{"15.03.2024 10:00", time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)},
		{"15.03.2024", time.Date(2024, 3, 14, 23, 0, 0, 0, time.UTC)},
		// CEST (summer): UTC+2
		{"15.07.2024 12:30", time.Date(2024, 7, 15, 10, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := ParseAuctionDate(tc.in)
		if got == nil {
			t.Fatalf("%q: expected %s, got nil", tc.in, tc.want)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%q: expected %s, got %s", tc.in, tc.want, got)
		}
		if got.Location() != time.UTC {
			t.Fatalf("%q: expected UTC location, got %s", tc.in, got.Location())
		}
	}
}

func TestParseAuctionDate_GodzFormat(t *testing.T) {
	got := ParseAuctionDate("W dniu: 24.02.2026r, godz. 10:00")
	want := time.Date(2026, 2, 24, 9, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %s, got %v", want, got)
	}

	got = ParseAuctionDate("24.02.2026r,godz. 9:30")
	want = time.Date(2026, 2, 24, 8, 30, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestParseAuctionDate_EmbeddedDateDefaultsToTen(t *testing.T) {
	got := ParseAuctionDate("Termin licytacji: 3.04.2025r.")
	want := time.Date(2025, 4, 3, 8, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %s, got %v", want, got)
	}
}

func TestParseAuctionDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "jutro", "31.02.2025 10:00", "2025/01/01"} {
		if got := ParseAuctionDate(in); got != nil {
			t.Fatalf("%q: expected nil, got %s", in, got)
		}
	}
}
