package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/atrpc/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("atrpc-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordAcceptError()
	RecordDispatch("add", "success", time.Millisecond)
	RecordFrameError("server", "invalid_tag")
	RecordClientCall("add", "success", 2*time.Millisecond)
	RecordClientReconnect()

	before := testutil.ToFloat64(checksumMismatches.WithLabelValues("metrics-test"))
	RecordChecksumMismatch("metrics-test")
	if got := testutil.ToFloat64(checksumMismatches.WithLabelValues("metrics-test")); got != before+1 {
		t.Fatalf("checksum mismatch counter got=%v want=%v", got, before+1)
	}
}

func TestSpansAreSafeWithoutProvider(t *testing.T) {
	testlog.Start(t)
	ctx, span := StartDispatchSpan(context.Background(), "add", 7, 1)
	if ctx == nil || span == nil {
		t.Fatalf("expected span and context")
	}
	EndSpan(span, nil)

	_, span = StartCallSpan(context.Background(), "divide", "127.0.0.1:0")
	EndSpan(span, errors.New("division by zero"))
}
