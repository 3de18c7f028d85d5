package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	chstore "solana-wallet-lab/internal/storage/clickhouse"
)

// RunClickHouseMigrations applies all embedded ClickHouse SQL files in
// lexical order on an established connection. The driver does not support
// multiquery Exec, so each file must hold a single statement.
func RunClickHouseMigrations(ctx context.Context, conn *chstore.Conn) error {
	files, err := listSQLFiles(ClickHouseFS, "clickhouse")
	if err != nil {
		return fmt.Errorf("read embedded clickhouse migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(ClickHouseFS, "clickhouse/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmt := strings.TrimSpace(string(data))
		if stmt == "" {
			continue
		}
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
