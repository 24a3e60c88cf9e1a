package cronsched

import (
	"testing"
	"time"
)

func TestScheduler_DueJobs_NoOverlap(t *testing.T) {
	s := NewScheduler()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Add("j", "* * * * * *", base); err != nil {
		t.Fatalf("add: %v", err)
	}

	due := s.DueJobs(base.Add(2 * time.Second))
	if len(due) != 1 || due[0] != "j" {
		t.Fatalf("expected job due, got %v", due)
	}
	if !s.IsRunning("j") {
		t.Fatal("expected job to be marked running")
	}

	// While still running, arrival of the next instant must be skipped, not queued.
	due2 := s.DueJobs(base.Add(3 * time.Second))
	if len(due2) != 0 {
		t.Fatalf("expected no due jobs while running, got %v", due2)
	}

	s.Finished("j", base.Add(2*time.Second), time.Second, 0)
	if s.IsRunning("j") {
		t.Fatal("expected job to be cleared after Finished")
	}

	hist := s.History("j")
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries (1 skip + 1 run), got %d", len(hist))
	}
}

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("*/5 * * * *"); err != nil {
		t.Fatalf("expected valid 5-field expr, got %v", err)
	}
	if err := ValidateExpr("* * * * * *"); err != nil {
		t.Fatalf("expected valid 6-field expr, got %v", err)
	}
	if err := ValidateExpr("not a cron"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
