package reference

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`
		CREATE TABLE currencies (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT,
			minor_unit INTEGER NOT NULL DEFAULT 2,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`).Error)
	require.NoError(t, db.Exec(`
		CREATE TABLE timezones (
			name TEXT PRIMARY KEY,
			region TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`).Error)

	require.NoError(t, db.Exec(`INSERT INTO currencies (code, name, minor_unit, is_active) VALUES
		('USD', 'US Dollar', 2, 1),
		('EUR', 'Euro', 2, 1),
		('XXX', 'Retired', 2, 0)`).Error)
	require.NoError(t, db.Exec(`INSERT INTO timezones (name, region) VALUES
		('UTC', 'Etc'),
		('Asia/Jakarta', 'Asia'),
		('Asia/Tokyo', 'Asia'),
		('Europe/London', 'Europe')`).Error)

	return db
}

func TestListCurrencies(t *testing.T) {
	repo := Provide(openTestDB(t))

	currencies, err := repo.ListCurrencies(context.Background())
	require.NoError(t, err)
	require.Len(t, currencies, 2)
	assert.Equal(t, "EUR", currencies[0].Code)
	assert.Equal(t, "USD", currencies[1].Code)
}

func TestListTimezones(t *testing.T) {
	repo := Provide(openTestDB(t))

	all, err := repo.ListTimezones(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	asia, err := repo.ListTimezones(context.Background(), "Asia")
	require.NoError(t, err)
	require.Len(t, asia, 2)
	assert.Equal(t, "Asia/Jakarta", asia[0].Name)
}
