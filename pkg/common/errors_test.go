package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		msg  string
	}{
		{"not found", NotFound("get_index", "index %q", "papers"), IsNotFound, `get_index: not found: index "papers"`},
		{"validation", Validation("resolve", "unknown strategy %q", "x"), IsValidation, `resolve: validation error: unknown strategy "x"`},
		{"conflict", Conflict("create_index", "index %q exists", "a"), IsConflict, `create_index: conflict: index "a" exists`},
		{"transient", Transient("embed", cause), IsTransient, "embed: transient provider error: dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.is(tt.err) {
				t.Fatalf("kind check failed for %v", tt.err)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.is(wrapped) {
				t.Fatalf("kind lost through wrapping: %v", wrapped)
			}
			if tt.err.Error() != tt.msg {
				t.Fatalf("got %q, want %q", tt.err.Error(), tt.msg)
			}
		})
	}
}

func TestTransientKeepsCause(t *testing.T) {
	err := Transient("chat", context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to stay matchable")
	}
	if Transient("chat", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestDocumentPatchEmpty(t *testing.T) {
	if !(DocumentPatch{}).Empty() {
		t.Fatal("zero patch should be empty")
	}
	s := "x"
	if (DocumentPatch{Content: &s}).Empty() {
		t.Fatal("patch with content should not be empty")
	}
}
