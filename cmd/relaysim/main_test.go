package main

import (
	"context"
	"testing"

	"github.com/bit2swaz/relaymesh/internal/mesh"
)

func TestScenarioRuns(t *testing.T) {
	if err := run(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Scenario failed: %v", err)
	}
}

func TestNodeCloseReleasesDatabase(t *testing.T) {
	n, err := newNode(t.TempDir(), "alice", mesh.NewLoopbackNetwork())
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}
	if err := n.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start node: %v", err)
	}
	n.close()

	if n.mgr.State() != mesh.StateStopped {
		t.Errorf("Expected session to be stopped, got %s", n.mgr.State())
	}
	sqlDB, err := n.db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	if err := sqlDB.Ping(); err == nil {
		t.Error("Expected database to be closed")
	}
}
