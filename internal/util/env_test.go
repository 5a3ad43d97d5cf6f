package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("RAG_TEST_INT", "12")
	t.Setenv("RAG_TEST_BAD_INT", "twelve")
	t.Setenv("RAG_TEST_BOOL", "1")
	t.Setenv("RAG_TEST_DURATION", "1.5")
	t.Setenv("RAG_TEST_LIST", "a, b,,c ")

	if got := GetEnvInt("RAG_TEST_INT", 3); got != 12 {
		t.Fatalf("GetEnvInt = %d, want 12", got)
	}
	if got := GetEnvInt("RAG_TEST_BAD_INT", 3); got != 3 {
		t.Fatalf("GetEnvInt fallback = %d, want 3", got)
	}
	if got := GetEnvBool("RAG_TEST_BOOL", false); !got {
		t.Fatal("GetEnvBool = false, want true")
	}
	if got := GetEnvDuration("RAG_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("GetEnvDuration = %v, want 1.5s", got)
	}
	if got := GetEnvString("RAG_TEST_MISSING", "x"); got != "x" {
		t.Fatalf("GetEnvString = %q, want x", got)
	}
	if got := GetEnvList("RAG_TEST_LIST"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("GetEnvList = %v", got)
	}
}
