package store

import (
	"context"
	"strings"
	"testing"
)

func TestMigrationsAreOrderedUpFiles(t *testing.T) {
	names, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations() error: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("no embedded migrations")
	}
	for i, name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			t.Fatalf("unexpected migration %q", name)
		}
		if i > 0 && names[i-1] >= name {
			t.Fatalf("migrations out of order: %q before %q", names[i-1], name)
		}
	}
}

func TestHealthCheckUninitialized(t *testing.T) {
	var s *Store
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
