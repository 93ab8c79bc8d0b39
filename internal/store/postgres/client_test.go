package postgres

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "defaults port and ssl mode",
			cfg:  ClientConfig{Host: "db", Database: "levfarm", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/levfarm?sslmode=disable",
		},
		{
			name: "custom port",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", SSLMode: "require"},
			want: "postgres://u:@db:6543/x?sslmode=require",
		},
		{
			name: "password is escaped",
			cfg:  ClientConfig{Host: "db", Database: "levfarm", User: "bot", Password: "p@ss/word"},
			want: "postgres://bot:p%40ss%2Fword@db:5432/levfarm?sslmode=disable",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DSN(tc.cfg))
		})
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	all, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "001_init.sql", all[0].name)
	for _, table := range []string{"audit_log", "price_snapshots", "position_state"} {
		assert.True(t, strings.Contains(all[0].sql, table), "missing table %s", table)
	}
}

func TestPendingMigrations(t *testing.T) {
	all := []migration{{name: "001_init.sql"}, {name: "002_snapshot_index.sql"}, {name: "003_position_history.sql"}}
	got := pending(all, map[string]bool{"001_init.sql": true, "003_position_history.sql": true})
	require.Len(t, got, 1)
	assert.Equal(t, "002_snapshot_index.sql", got[0].name)
	assert.Len(t, pending(all, nil), 3)
}

func TestNumericRoundTrip(t *testing.T) {
	big78, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	for _, x := range []*big.Int{big.NewInt(0), big.NewInt(1e18), big78} {
		got, err := parseNumeric(numericString(x))
		require.NoError(t, err)
		assert.Equal(t, 0, x.Cmp(got))
	}
	assert.Equal(t, "0", numericString(nil))

	_, err := parseNumeric("1.5")
	require.Error(t, err)
}
