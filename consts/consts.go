package consts

// MigrationAdvisoryLockID serializes schema changes on PostgreSQL.
const MigrationAdvisoryLockID = 0x706f703364
