package all

import (
	"reflect"
	"testing"

	"courseetl/internal/storage"
)

func TestAllKindsRegistered(t *testing.T) {
	want := []string{"mysql", "postgres", "sqlite", "sqlserver"}
	if got := storage.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
