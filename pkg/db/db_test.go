package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	require.Error(t, err)
}

func TestDialectNames(t *testing.T) {
	for _, typ := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialect(Config{Type: typ, Name: "luc"})
		require.NoError(t, err, typ)
		assert.Equal(t, typ, d.Name())
	}
}

func TestNewTestIsolated(t *testing.T) {
	a, err := NewTest()
	require.NoError(t, err)
	b, err := NewTest()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = Close(a)
		_ = Close(b)
	})

	require.NoError(t, a.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)").Error)
	assert.True(t, a.Migrator().HasTable("probe"))
	assert.False(t, b.Migrator().HasTable("probe"))
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: luc_accounts.user_id")))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}
