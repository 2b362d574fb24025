package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPersist(t *testing.T) {
	tests := []struct {
		name    string
		skipped bool
		err     error
		result  string
	}{
		{name: "ok", result: "ok"},
		{name: "skipped", skipped: true, result: "skipped"},
		{name: "error wins over skipped", skipped: true, err: errors.New("disk full"), result: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := PersistOps.WithLabelValues("test."+tt.name, tt.result)
			before := testutil.ToFloat64(c)
			RecordPersist("test."+tt.name, 5*time.Millisecond, tt.skipped, tt.err)
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Fatalf("expected counter %v, got %v", before+1, got)
			}
		})
	}
}

func TestSetFeedConnected(t *testing.T) {
	SetFeedConnected(true)
	if v := testutil.ToFloat64(FeedConnected); v != 1 {
		t.Fatalf("expected 1, got %v", v)
	}
	SetFeedConnected(false)
	if v := testutil.ToFloat64(FeedConnected); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequests.WithLabelValues("test_route", "404")
	before := testutil.ToFloat64(c)
	RecordAPIRequest("test_route", 404, time.Millisecond)
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
