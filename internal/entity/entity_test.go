package entity_test

import (
	"sort"
	"testing"
	"time"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/testfixtures"
)

func TestFormatTime_LexicographicOrderMatchesChronology(t *testing.T) {
	t.Parallel()

	base := testfixtures.ReferenceTime()
	instants := []time.Time{
		base.Add(2 * time.Second),
		base.Add(500 * time.Millisecond),
		base,
		base.Add(time.Hour),
		base.Add(3 * time.Millisecond),
	}

	formatted := make([]string, len(instants))
	for i, ts := range instants {
		formatted[i] = entity.FormatTime(ts)
	}
	sort.Strings(formatted)

	for i := 1; i < len(formatted); i++ {
		prev, err := entity.ParseTime(formatted[i-1])
		if err != nil {
			t.Fatalf("parse %q: %v", formatted[i-1], err)
		}
		next, err := entity.ParseTime(formatted[i])
		if err != nil {
			t.Fatalf("parse %q: %v", formatted[i], err)
		}
		if next.Before(prev) {
			t.Fatalf("string order disagrees with time order: %q before %q", formatted[i-1], formatted[i])
		}
	}
}

func TestFormatTime_NormalisesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("JST", 9*3600)
	local := time.Date(2025, time.March, 10, 19, 0, 0, 0, loc)

	got := entity.FormatTime(local)
	want := "2025-03-10T10:00:00.000Z"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseTime_RoundTrip(t *testing.T) {
	t.Parallel()

	orig := testfixtures.ReferenceTime().Add(1234 * time.Millisecond)
	parsed, err := entity.ParseTime(entity.FormatTime(orig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(orig) {
		t.Fatalf("round trip changed instant: %v != %v", parsed, orig)
	}
}
