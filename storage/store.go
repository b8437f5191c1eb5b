package storage

import (
	"errors"
	"time"
)

var (
	// ErrReconnectFailed is returned once every bounded reconnect attempt failed.
	ErrReconnectFailed = errors.New("failed to reconnect to database")
	// ErrNotConnected is returned when a query finds no live connection.
	ErrNotConnected = errors.New("database not connected")
)

// ConnectionState is the connector's view of its connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connected
)

func (s ConnectionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// ActiveUsers counts local users seen within each window.
type ActiveUsers struct {
	Daily   int64
	Weekly  int64
	Monthly int64
}

// RecentNotes counts notes created within each window.
type RecentNotes struct {
	Daily int64
}

// Federation describes the remote side of the instance.
type Federation struct {
	Instances   int64
	RemoteUsers int64
}

// DatabaseStats describes the store itself.
type DatabaseStats struct {
	Connections int64
	SizeBytes   int64
}

// MetricsSnapshot is the result of a single successful query batch.
// It is never partially filled: GetAllMetrics returns all of it or nothing.
type MetricsSnapshot struct {
	CollectedAt time.Time
	TotalUsers  int64
	ActiveUsers ActiveUsers
	TotalNotes  int64
	RecentNotes RecentNotes
	Federation  Federation
	Database    DatabaseStats
}

// HashtagCount is one row of TopHashtags.
type HashtagCount struct {
	Tag   string
	Count int64
}
