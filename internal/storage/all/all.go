// Package all registers every storage backend. Importing it for side
// effects makes all kinds available to storage.New:
//
//	import _ "dq/internal/storage/all"
package all

import (
	_ "dq/internal/storage/mssql"
	_ "dq/internal/storage/postgres"
	_ "dq/internal/storage/snowflake"
	_ "dq/internal/storage/sqlite"
)
