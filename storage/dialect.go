package storage

// Dialect is the set of statements the connector issues. Every count
// statement returns a single integer column; TopHashtags returns (tag, count).
//
// Parameters:
//   - ActiveUsers: $1 cutoff timestamp
//   - RecentNotes: $1 lower-bound aid
//   - TopHashtags: $1 limit
type Dialect struct {
	Name           string
	UserCount      string
	ActiveUsers    string
	NotesCount     string
	RecentNotes    string
	InstancesCount string
	RemoteUsers    string
	Connections    string
	DatabaseSize   string
	TopHashtags    string
}

// Postgres is the dialect of a Misskey Postgres database.
var Postgres = Dialect{
	Name:      "postgres",
	UserCount: `SELECT COUNT(*) FROM "user" WHERE "host" IS NULL`,
	ActiveUsers: `SELECT COUNT(*) FROM "user"
WHERE "host" IS NULL
AND "lastActiveDate" > $1`,
	NotesCount:     `SELECT COUNT(*) FROM "note"`,
	RecentNotes:    `SELECT COUNT(*) FROM "note" WHERE "id" > $1`,
	InstancesCount: `SELECT COUNT(*) FROM "instance"`,
	RemoteUsers:    `SELECT COUNT(*) FROM "user" WHERE "host" IS NOT NULL`,
	Connections: `SELECT COUNT(*)
FROM pg_stat_activity
WHERE datname = current_database()`,
	DatabaseSize: `SELECT pg_database_size(current_database())`,
	TopHashtags: `SELECT "tag", COUNT(*) AS count
FROM "note_hashtag"
JOIN "hashtag" ON "note_hashtag"."hashtagId" = "hashtag"."id"
GROUP BY "tag"
ORDER BY count DESC
LIMIT $1`,
}
