package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfigSetDefaultsFillsPoolSizes(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres"}
	cfg.SetDefaults()
	assert.Equal(t, 25, cfg.MaxConns)
	assert.Equal(t, 5, cfg.MaxIdle)
	assert.Equal(t, 60, cfg.ConnMaxLifetimeMinutes)
	assert.Equal(t, "flowforge-orchestrator", cfg.ApplicationName)
}

func TestDatabaseConfigSetDefaultsLeavesApplicationNameForNonPostgres(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "mysql"}
	cfg.SetDefaults()
	assert.Empty(t, cfg.ApplicationName)
}

func TestDatabaseConfigSetDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", MaxConns: 10, MaxIdle: 2, Port: 6543, SSLMode: "require"}
	cfg.SetDefaults()
	assert.Equal(t, 10, cfg.MaxConns)
	assert.Equal(t, 2, cfg.MaxIdle)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "require", cfg.SSLMode)
}

func TestDatabaseConfigSetDefaultsPerDriverPort(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres"}
	pg.SetDefaults()
	assert.Equal(t, 5432, pg.Port)
	assert.Equal(t, "disable", pg.SSLMode)

	mysql := &DatabaseConfig{Driver: "mysql"}
	mysql.SetDefaults()
	assert.Equal(t, 3306, mysql.Port)

	sqlite := &DatabaseConfig{Driver: "sqlite"}
	sqlite.SetDefaults()
	assert.Equal(t, 0, sqlite.Port)
}

func TestDatabaseConfigValidateRequiresDriver(t *testing.T) {
	cfg := &DatabaseConfig{Database: "mydb"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "oracle", Database: "mydb"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigValidateRequiresDatabase(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Host: "localhost"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigValidateRequiresHostForNonSQLite(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Database: "mydb"}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigValidateSQLiteDoesNotRequireHost(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "/tmp/data.db"}
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfigValidateRejectsNegativePoolSizes(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "x.db", MaxConns: -1}
	assert.Error(t, cfg.Validate())

	cfg = &DatabaseConfig{Driver: "sqlite", Database: "x.db", MaxIdle: -1}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigValidateRejectsNegativeConnMaxLifetime(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "x.db", ConnMaxLifetimeMinutes: -1}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseConfigDSNPostgres(t *testing.T) {
	cfg := &DatabaseConfig{
		Driver: "postgres", Host: "db.internal", Port: 5432, Database: "orch",
		Username: "app", Password: "secret", SSLMode: "require",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "port=5432")
	assert.Contains(t, dsn, "dbname=orch")
	assert.Contains(t, dsn, "user=app")
	assert.Contains(t, dsn, "password=secret")
	assert.Contains(t, dsn, "sslmode=require")
}

func TestDatabaseConfigDSNPostgresOmitsEmptyCredentials(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Host: "db.internal", Port: 5432, Database: "orch"}
	dsn := cfg.DSN()
	assert.NotContains(t, dsn, "user=")
	assert.NotContains(t, dsn, "password=")
}

func TestDatabaseConfigDSNMySQLWithCredentials(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "mysql", Host: "db.internal", Port: 3306, Database: "orch", Username: "app", Password: "secret"}
	assert.Equal(t, "app:secret@tcp(db.internal:3306)/orch", cfg.DSN())
}

func TestDatabaseConfigDSNMySQLWithoutCredentials(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "mysql", Host: "db.internal", Port: 3306, Database: "orch"}
	assert.Equal(t, "tcp(db.internal:3306)/orch", cfg.DSN())
}

func TestDatabaseConfigDSNSQLiteIsFilePath(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite", Database: "/var/lib/orch/state.db"}
	assert.Equal(t, "/var/lib/orch/state.db", cfg.DSN())
}

func TestDatabaseConfigDriverNameNormalizesSQLite(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite"}
	assert.Equal(t, "sqlite3", cfg.DriverName())

	cfg = &DatabaseConfig{Driver: "postgres"}
	assert.Equal(t, "postgres", cfg.DriverName())
}

func TestDatabaseConfigDialectNormalizesSQLite3(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "sqlite3"}
	assert.Equal(t, "sqlite", cfg.Dialect())

	cfg = &DatabaseConfig{Driver: "mysql"}
	assert.Equal(t, "mysql", cfg.Dialect())
}

func TestDatabaseConfigDescribeOmitsPassword(t *testing.T) {
	cfg := &DatabaseConfig{Driver: "postgres", Host: "db.internal", Port: 5432, Database: "orch", Username: "app", Password: "secret"}
	desc := cfg.Describe()
	assert.NotContains(t, desc, "secret")
	assert.Contains(t, desc, "db.internal")

	sqlite := &DatabaseConfig{Driver: "sqlite", Database: "/var/lib/orch/state.db"}
	assert.Equal(t, "sqlite(/var/lib/orch/state.db)", sqlite.Describe())
}
