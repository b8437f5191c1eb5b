package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// PostgresConfig locates the Misskey database.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string // disable|prefer|require|...; empty means driver default
}

// DSN renders the config as a postgres:// URL understood by pgx.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Fields describes the target for log entries without leaking the password.
func (c PostgresConfig) Fields() []zap.Field {
	return []zap.Field{
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
		zap.String("database", c.Database),
		zap.String("user", c.User),
		zap.Bool("password_set", c.Password != ""),
	}
}

// SQLOpener returns an Opener that opens driverName/dsn and verifies the
// connection with a ping. Pool size is capped so the exporter never holds
// more connections than one query batch needs.
func SQLOpener(driverName, dsn string, maxOpen int) Opener {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s db: %w", driverName, err)
		}
		if maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
			db.SetMaxIdleConns(maxOpen)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping %s db: %w", driverName, err)
		}
		return db, nil
	}
}

// NewPostgres returns a connector for a Misskey Postgres database. It does
// not connect; call Connect.
func NewPostgres(cfg PostgresConfig, log *zap.Logger, opts ...Option) *Database {
	opts = append([]Option{WithTarget(cfg.Fields()...)}, opts...)
	return New(SQLOpener("pgx", cfg.DSN(), queryCount), Postgres, log, opts...)
}
