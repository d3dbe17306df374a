package ctxutil

import (
	"context"
	"testing"
)

func TestRequestIDsRoundTrip(t *testing.T) {
	if _, ok := RequestIDsFrom(context.Background()); ok {
		t.Fatalf("plain context should carry no ids")
	}
	if LogFields(context.Background()) != nil {
		t.Fatalf("expected no log fields")
	}

	ctx := WithRequestIDs(nil, RequestIDs{TraceID: "t1", RequestID: "r1"})
	ids, ok := RequestIDsFrom(ctx)
	if !ok || ids.TraceID != "t1" || ids.RequestID != "r1" {
		t.Fatalf("got %+v ok=%v", ids, ok)
	}
	fields := LogFields(ctx)
	if len(fields) != 4 || fields[1] != "t1" || fields[3] != "r1" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
