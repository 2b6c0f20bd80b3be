package domain

import (
	"testing"
	"time"
)

func TestRecord_Expired(t *testing.T) {
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r := &Record{ExpiresAt: exp}
	if r.Expired(exp.Add(-time.Nanosecond)) {
		t.Error("record should be live before expires_at")
	}
	if !r.Expired(exp) {
		t.Error("record should be expired at expires_at")
	}
}
