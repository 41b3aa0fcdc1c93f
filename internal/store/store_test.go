package store

import (
	"database/sql"
	"testing"

	"github.com/printforge/notify/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, role string) int64 {
	t.Helper()
	result, err := db.Exec(
		"INSERT INTO users (name, email, role) VALUES ('Test', 'test@example.com', ?)", role,
	)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}
