package db

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_UpAndDownPaired(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)

	var ups, downs []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups = append(ups, strings.TrimSuffix(name, ".up.sql"))
		case strings.HasSuffix(name, ".down.sql"):
			downs = append(downs, strings.TrimSuffix(name, ".down.sql"))
		}
	}
	sort.Strings(ups)
	sort.Strings(downs)

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestMigrations_DeclareUniqueKeys(t *testing.T) {
	events, err := fs.ReadFile(Migrations(), "000001_events.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(events), "UNIQUE (signature)")

	acks, err := fs.ReadFile(Migrations(), "000002_event_acks.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(acks), "UNIQUE (event_id, consumer)")
}

func TestNewPool_EmptyConnString(t *testing.T) {
	_, err := NewPool(context.Background(), "", 0)
	require.Error(t, err)
}
