package obscontext

import (
	"context"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	ctx := WithUserID(WithRequestID(context.Background(), " req-1 "), "user-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := UserIDFromContext(ctx); got != "user-1" {
		t.Fatalf("expected user-1, got %q", got)
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
}
