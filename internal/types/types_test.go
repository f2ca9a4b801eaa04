package types

import (
	"testing"
	"time"
)

func TestReviewKey(t *testing.T) {
	tests := []struct {
		name   string
		nmID   string
		rating int
		date   time.Time
		want   string
	}{
		{
			name:   "truncates to minute",
			nmID:   "649502497",
			rating: 1,
			date:   time.Date(2026, 1, 7, 20, 9, 37, 500, time.UTC),
			want:   "649502497_1_2026-01-07T20:09",
		},
		{
			name:   "already minute precision",
			nmID:   "123456",
			rating: 4,
			date:   time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC),
			want:   "123456_4_2025-12-31T23:59",
		},
		{
			name:   "normalizes to UTC",
			nmID:   "42",
			rating: 2,
			date:   time.Date(2026, 3, 1, 12, 30, 15, 0, time.FixedZone("MSK", 3*3600)),
			want:   "42_2_2026-03-01T09:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReviewKey(tt.nmID, tt.rating, tt.date); got != tt.want {
				t.Errorf("ReviewKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseReviewKey(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		date := time.Date(2026, 1, 7, 20, 9, 0, 0, time.UTC)
		key := ReviewKey("649502497", 1, date)

		nmID, rating, parsed, err := ParseReviewKey(key)
		if err != nil {
			t.Fatalf("ParseReviewKey(%q) error: %v", key, err)
		}
		if nmID != "649502497" || rating != 1 || !parsed.Equal(date) {
			t.Errorf("ParseReviewKey(%q) = (%q, %d, %v)", key, nmID, rating, parsed)
		}
	})

	t.Run("nm id with underscores", func(t *testing.T) {
		nmID, rating, _, err := ParseReviewKey("sku_a_b_5_2026-01-07T20:09")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if nmID != "sku_a_b" || rating != 5 {
			t.Errorf("got (%q, %d), want (%q, %d)", nmID, rating, "sku_a_b", 5)
		}
	})

	for _, key := range []string{"", "noseparators", "_1_2026-01-07T20:09", "sku_x_2026-01-07T20:09", "sku_1_yesterday"} {
		if _, _, _, err := ParseReviewKey(key); err == nil {
			t.Errorf("ParseReviewKey(%q) should fail", key)
		}
	}
}

func TestLinkStatusIsTerminal(t *testing.T) {
	terminal := []LinkStatus{
		LinkStatusAnchorNotFound,
		LinkStatusMessageSent,
		LinkStatusMessageSkipped,
		LinkStatusMessageFailed,
		LinkStatusError,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	for _, s := range []LinkStatus{LinkStatusOpened, LinkStatusAnchorFound} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusCancelled, JobStatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusPending, JobStatusInProgress} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidErrorStage(t *testing.T) {
	for _, s := range []ErrorStage{StageChatOpen, StageAnchorParsing, StageMessageSend} {
		if !ValidErrorStage(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if ValidErrorStage(ErrorStage("payment")) {
		t.Error("unknown stage should not be valid")
	}
}
