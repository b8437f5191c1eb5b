package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"misskey-exporter/aid"
)

// sqliteDialect mirrors Postgres against the same table shapes so the
// connector can be exercised without a Postgres server.
var sqliteDialect = Dialect{
	Name:      "sqlite",
	UserCount: `SELECT COUNT(*) FROM "user" WHERE "host" IS NULL`,
	ActiveUsers: `SELECT COUNT(*) FROM "user"
WHERE "host" IS NULL
AND "lastActiveDate" > ?`,
	NotesCount:     `SELECT COUNT(*) FROM "note"`,
	RecentNotes:    `SELECT COUNT(*) FROM "note" WHERE "id" > ?`,
	InstancesCount: `SELECT COUNT(*) FROM "instance"`,
	RemoteUsers:    `SELECT COUNT(*) FROM "user" WHERE "host" IS NOT NULL`,
	Connections:    `SELECT 1`,
	DatabaseSize:   `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`,
	TopHashtags: `SELECT "tag", COUNT(*) AS count
FROM "note_hashtag"
JOIN "hashtag" ON "note_hashtag"."hashtagId" = "hashtag"."id"
GROUP BY "tag"
ORDER BY count DESC
LIMIT ?`,
}

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const schema = `
CREATE TABLE IF NOT EXISTS "user" (
    "id"             TEXT PRIMARY KEY,
    "host"           TEXT,
    "lastActiveDate" TEXT
);
CREATE TABLE IF NOT EXISTS "note" (
    "id" TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS "instance" (
    "id"   TEXT PRIMARY KEY,
    "host" TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS "hashtag" (
    "id"  TEXT PRIMARY KEY,
    "tag" TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS "note_hashtag" (
    "noteId"    TEXT NOT NULL,
    "hashtagId" TEXT NOT NULL
);
`

// newFixtureDSN creates a seeded SQLite file and returns its DSN.
//
// Seed: 4 local users (active 1h, 3d, 10d, 60d ago), 2 remote users,
// 3 notes (1h, 2d, 40d old), 2 instances, hashtags misskey x3 and go x1.
func newFixtureDSN(t *testing.T) string {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", filepath.Join(t.TempDir(), "misskey.db"))

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(schema)
	require.NoError(t, err)

	users := []struct {
		id   string
		host any
		ago  time.Duration
	}{
		{"u1", nil, time.Hour},
		{"u2", nil, 3 * 24 * time.Hour},
		{"u3", nil, 10 * 24 * time.Hour},
		{"u4", nil, 60 * 24 * time.Hour},
		{"r1", "remote.example", time.Hour},
		{"r2", "other.example", time.Hour},
	}
	for _, u := range users {
		_, err := db.Exec(`INSERT INTO "user" ("id", "host", "lastActiveDate") VALUES (?, ?, ?)`,
			u.id, u.host, fixedNow.Add(-u.ago))
		require.NoError(t, err)
	}

	notes := []time.Duration{time.Hour, 2 * 24 * time.Hour, 40 * 24 * time.Hour}
	for i, ago := range notes {
		id := aid.EncodeTime(fixedNow.Add(-ago)) + fmt.Sprintf("%02d", i+10)
		_, err := db.Exec(`INSERT INTO "note" ("id") VALUES (?)`, id)
		require.NoError(t, err)
	}

	for _, host := range []string{"remote.example", "other.example"} {
		_, err := db.Exec(`INSERT INTO "instance" ("id", "host") VALUES (?, ?)`, "i-"+host, host)
		require.NoError(t, err)
	}

	_, err = db.Exec(`INSERT INTO "hashtag" ("id", "tag") VALUES ('h1', 'misskey'), ('h2', 'go')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO "note_hashtag" ("noteId", "hashtagId")
VALUES ('n1', 'h1'), ('n2', 'h1'), ('n3', 'h1'), ('n1', 'h2')`)
	require.NoError(t, err)

	return dsn
}

// newFixtureDatabase returns a connected connector over a seeded store.
func newFixtureDatabase(t *testing.T, opts ...Option) (*Database, string) {
	t.Helper()
	dsn := newFixtureDSN(t)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithReconnect(3, 0)}, opts...)
	d := New(SQLOpener("sqlite", dsn, queryCount), sqliteDialect, nil, opts...)
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect() })
	return d, dsn
}
