//go:build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/longregen/mcphub/internal/adapters/postgres"
)

// TestDB manages a test database instance
type TestDB struct {
	Pool *pgxpool.Pool
	DSN  string
}

// SetupTestDB creates a test database with migrations applied
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	// Get PostgreSQL connection from environment or use default
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "mcphub")
	password := getEnv("POSTGRES_PASSWORD", "mcphub")
	dbName := getEnv("POSTGRES_DB", "mcphub_test")

	adminDSN := fmt.Sprintf("postgres://%s:%s@%s:%s/postgres?sslmode=disable",
		user, password, host, port)

	db, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	// Drop and recreate database for clean state
	if _, err := db.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName)); err != nil {
		t.Fatalf("failed to drop test database: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port, dbName)

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
	})

	return &TestDB{Pool: pool, DSN: dsn}
}

// Clear removes all data from tables while preserving schema
func (db *TestDB) Clear(ctx context.Context) error {
	tables := []string{
		"mcphub_mcp_tools",
		"mcphub_user_server_configs",
		"mcphub_mcp_servers",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}

// WaitForReady waits for the database to be ready
func (db *TestDB) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := db.Pool.Ping(ctx); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("database not ready after %v", timeout)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
