package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mls-sync/internal/logging"
)

// DefaultClickHouseMigrationsPath holds the audit table DDL
const DefaultClickHouseMigrationsPath = "migrations/clickhouse"

// RunClickHouseMigrations executes every .sql file in lexical order.
// Statements must be idempotent (CREATE ... IF NOT EXISTS) since no version table is kept.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) error {
	logger := logging.FromContext(ctx)

	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	if len(sqlFiles) == 0 {
		logger.Warn("[ClickHouse] No migration files found")
		return nil
	}

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsPath, filename)) // #nosec G304 - trusted migrations dir
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			logger.WithFields(map[string]interface{}{
				"file":      filename,
				"statement": i + 1,
			}).Debugf("[ClickHouse] Executing %s", truncate(stmt, 80))

			if err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}
		logger.WithField("file", filename).Info("[ClickHouse] Migration applied")
	}

	return nil
}

// splitSQLStatements splits a file on statement-terminating semicolons and drops comment lines
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
