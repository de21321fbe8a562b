package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pstvault/pstvault/internal/archive"
	"github.com/pstvault/pstvault/internal/pipeline"
)

func TestCLIProgress_OnArchiveDoneBeforeStart(t *testing.T) {
	var buf strings.Builder
	p := NewCLIProgress(&buf)

	p.OnArchiveDone(pipeline.Result{
		Archive:  archive.Archive{Rel: "inbox.pst", Name: "inbox"},
		Status:   pipeline.StatusDone,
		Messages: 3,
		Records:  5,
		Duration: 2 * time.Second,
	})

	out := buf.String()
	if !strings.Contains(out, "done") || !strings.Contains(out, "inbox.pst") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCLIProgress_Statuses(t *testing.T) {
	var buf strings.Builder
	p := NewCLIProgress(&buf)

	a := archive.Archive{Rel: "exports/old.pst", Name: "old"}
	p.OnArchiveStart(a)
	p.OnArchiveDone(pipeline.Result{Archive: a, Status: pipeline.StatusSkipped})
	p.OnArchiveDone(pipeline.Result{
		Archive: a,
		Status:  pipeline.StatusFailed,
		Err:     errors.New("converter exited with status 1"),
	})

	out := buf.String()
	for _, want := range []string{
		"converting exports/old.pst",
		"skipped exports/old.pst",
		"failed  exports/old.pst: converter exited with status 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Hour, "2h 0m"},
		{3*time.Hour + 25*time.Minute, "3h 25m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
