// Package all registers every store backend.
package all

import (
	_ "courseetl/internal/storage/mssql"
	_ "courseetl/internal/storage/mysql"
	_ "courseetl/internal/storage/postgres"
	_ "courseetl/internal/storage/sqlite"
)
