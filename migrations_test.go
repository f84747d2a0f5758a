package main

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postgresMigrationsDir = "migrations/postgres"

// TestMigrationsExist checks that the Postgres migration set is present.
func TestMigrationsExist(t *testing.T) {
	if _, err := os.Stat(postgresMigrationsDir); os.IsNotExist(err) {
		t.Skip("postgres migrations directory does not exist")
		return
	}

	assert.DirExists(t, postgresMigrationsDir, "postgres migrations directory should exist")
}

// TestGooseInstalled checks that the goose CLI is available on PATH.
func TestGooseInstalled(t *testing.T) {
	cmd := exec.Command("goose", "version")
	err := cmd.Run()

	if err != nil {
		t.Skip("goose is not installed - run 'go install github.com/pressly/goose/v3/cmd/goose@latest'")
		return
	}

	assert.NoError(t, err, "goose should be installed and accessible")
}

// TestMigrationsRunUp applies the Postgres migration set against DATABASE_URL.
func TestMigrationsRunUp(t *testing.T) {
	if _, err := os.Stat(postgresMigrationsDir); os.IsNotExist(err) {
		t.Skip("postgres migrations directory does not exist")
		return
	}

	if err := exec.Command("goose", "version").Run(); err != nil {
		t.Skip("goose is not installed - run 'go install github.com/pressly/goose/v3/cmd/goose@latest'")
		return
	}

	databaseURL := os.Getenv("DATABASE_URL")
	require.NotEmpty(t, databaseURL, "DATABASE_URL environment variable must be set")

	cmd := exec.Command("goose", "-dir", postgresMigrationsDir, "postgres", databaseURL, "up")
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Logf("migration output: %s", string(output))
		t.Errorf("failed to run migrations up: %v", err)
		return
	}

	t.Logf("migrations applied successfully: %s", string(output))
}

// TestMigrationsRunDown rolls back the most recent Postgres migration.
func TestMigrationsRunDown(t *testing.T) {
	if _, err := os.Stat(postgresMigrationsDir); os.IsNotExist(err) {
		t.Skip("postgres migrations directory does not exist")
		return
	}

	if err := exec.Command("goose", "version").Run(); err != nil {
		t.Skip("goose is not installed - run 'go install github.com/pressly/goose/v3/cmd/goose@latest'")
		return
	}

	databaseURL := os.Getenv("DATABASE_URL")
	require.NotEmpty(t, databaseURL, "DATABASE_URL environment variable must be set")

	upCmd := exec.Command("goose", "-dir", postgresMigrationsDir, "postgres", databaseURL, "up")
	if output, err := upCmd.CombinedOutput(); err != nil {
		t.Logf("migration up output: %s", string(output))
		t.Skipf("cannot apply migrations up first: %v", err)
		return
	}

	cmd := exec.Command("goose", "-dir", postgresMigrationsDir, "postgres", databaseURL, "down")
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Logf("migration rollback output: %s", string(output))
		t.Errorf("failed to run migrations down: %v", err)
		return
	}

	t.Logf("migrations rolled back successfully: %s", string(output))
}

// TestMigrationStatus checks that goose reports status without error.
func TestMigrationStatus(t *testing.T) {
	if _, err := os.Stat(postgresMigrationsDir); os.IsNotExist(err) {
		t.Skip("postgres migrations directory does not exist")
		return
	}

	if err := exec.Command("goose", "version").Run(); err != nil {
		t.Skip("goose is not installed - run 'go install github.com/pressly/goose/v3/cmd/goose@latest'")
		return
	}

	databaseURL := os.Getenv("DATABASE_URL")
	require.NotEmpty(t, databaseURL, "DATABASE_URL environment variable must be set")

	cmd := exec.Command("goose", "-dir", postgresMigrationsDir, "postgres", databaseURL, "status")
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Logf("migration status output: %s", string(output))
		t.Errorf("failed to get migration status: %v", err)
		return
	}

	t.Logf("migration status: %s", string(output))
	assert.NoError(t, err, "migration status should complete without error")
}
