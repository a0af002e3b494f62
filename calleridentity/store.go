/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calleridentity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tejzpr/webphone-go-sdk/calling"
)

// Store finds the CRM record owning a phone number.
type Store interface {
	// LookupCaller returns Found=false with a nil error when nothing
	// matches.
	LookupCaller(ctx context.Context, number string) (calling.CallerInfo, error)
}

// PoolConfig controls database/sql pool behaviour.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = 10
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// OpenPostgres opens a database/sql handle and pings it. driverName is
// normally "pgx" from github.com/jackc/pgx/v5/stdlib. The dsn holds
// credentials and must not be logged.
func OpenPostgres(ctx context.Context, driverName, dsn string, pool PoolConfig) (*sql.DB, error) {
	pool = pool.withDefaults()

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return db, nil
}

// Stored phones are compared on digits only so formatting differences in
// the CRM do not matter. Quotes win over policies.
const (
	quoteLookupSQL = `SELECT id, first_name, last_name FROM quotes
WHERE regexp_replace(phone, '[^0-9]', '', 'g') = ANY($1)
ORDER BY updated_at DESC LIMIT 1`

	policyLookupSQL = `SELECT id, first_name, last_name FROM policies
WHERE regexp_replace(phone, '[^0-9]', '', 'g') = ANY($1)
ORDER BY updated_at DESC LIMIT 1`
)

// PostgresStore looks callers up in the CRM's quotes and policies tables.
type PostgresStore struct {
	db     *sql.DB
	region string
}

// NewPostgresStore creates a store over db. Numbers without a country code
// are read in region.
func NewPostgresStore(db *sql.DB, region string) *PostgresStore {
	if region == "" {
		region = calling.DefaultRegion
	}
	return &PostgresStore{db: db, region: region}
}

// LookupCaller implements Store.
func (s *PostgresStore) LookupCaller(ctx context.Context, number string) (calling.CallerInfo, error) {
	keys := matchKeys(number, s.region)
	if len(keys) == 0 {
		return calling.CallerInfo{}, nil
	}

	for _, q := range []struct {
		kind  calling.CallerType
		query string
	}{
		{calling.CallerTypeQuote, quoteLookupSQL},
		{calling.CallerTypePolicy, policyLookupSQL},
	} {
		info, err := s.lookup(ctx, q.query, keys)
		if err != nil {
			return calling.CallerInfo{}, fmt.Errorf("%s lookup: %w", q.kind, err)
		}
		if info.Found {
			info.Type = q.kind
			return info, nil
		}
	}
	return calling.CallerInfo{}, nil
}

func (s *PostgresStore) lookup(ctx context.Context, query string, keys []string) (calling.CallerInfo, error) {
	var (
		info        calling.CallerInfo
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, keys).Scan(&info.ID, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return calling.CallerInfo{}, nil
	}
	if err != nil {
		return calling.CallerInfo{}, err
	}
	info.Found = true
	info.FirstName = first.String
	info.LastName = last.String
	return info, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
