package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(AllTables()...))
	return db
}

func TestDomainOf(t *testing.T) {
	require := require.New(t)

	require.Equal("site.example", DomainOf("https://site.example/post/1"))
	require.Equal("site.example", DomainOf("https://SITE.example"))
	require.Equal("", DomainOf("not a url"))
}

func TestMinimizeDomain(t *testing.T) {
	require := require.New(t)

	require.Equal("site.example", MinimizeDomain("www.site.example"))
	require.Equal("site.example", MinimizeDomain("site.example"))
}

func TestBlocklisted(t *testing.T) {
	require := require.New(t)

	require.True(Blocklisted("https://twitter.com/someone/status/1"))
	require.True(Blocklisted("https://www.facebook.com/page"))
	require.False(Blocklisted("https://site.example/post/1"))
}

func TestBlockedTLD(t *testing.T) {
	require := require.New(t)

	require.True(BlockedTLD("favicon.ico"))
	require.True(BlockedTLD("feed.xml"))
	require.True(BlockedTLD("index.php"))
	require.False(BlockedTLD("site.example"))
	require.False(BlockedTLD("localhost"))
}
