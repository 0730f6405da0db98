// Package store persists the Listing Registry and Proceeds Ledger in
// sqlite. The engine writes through on every mutating operation, one
// transaction per operation, and reloads the full state at startup.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/urbex-io/auctionhouse/core"
)

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; the engine serializes mutations anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps commit latency low for the one-transaction-per-operation
	// write pattern. FULL sync because this is the store of record.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS listings (
			collection TEXT NOT NULL,
			token_id INTEGER NOT NULL,
			seller TEXT NOT NULL,
			price TEXT NOT NULL,
			end_time INTEGER NOT NULL,
			highest_bidder TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, token_id)
		);`,
		`CREATE TABLE IF NOT EXISTS proceeds (
			account TEXT PRIMARY KEY,
			balance TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Apply persists one engine change set in a single transaction.
func (s *SQLiteStore) Apply(change core.Change) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if put := change.PutListing; put != nil {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO listings(collection,token_id,seller,price,end_time,highest_bidder) VALUES(?,?,?,?,?,?)`,
			put.Item.Collection,
			int64(put.Item.TokenID),
			put.Listing.Seller,
			put.Listing.Price.String(),
			put.Listing.EndTime.UnixNano(),
			put.Listing.HighestBidder,
		)
		if err != nil {
			return fmt.Errorf("upsert listing %s: %w", put.Item, err)
		}
	}

	if del := change.DeleteListing; del != nil {
		_, err := tx.Exec(
			`DELETE FROM listings WHERE collection = ? AND token_id = ?`,
			del.Collection,
			int64(del.TokenID),
		)
		if err != nil {
			return fmt.Errorf("delete listing %s: %w", del, err)
		}
	}

	for _, b := range change.Balances {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO proceeds(account,balance) VALUES(?,?)`,
			b.Account,
			b.Balance.String(),
		)
		if err != nil {
			return fmt.Errorf("upsert balance for %s: %w", b.Account, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the full persisted state for engine restoration.
func (s *SQLiteStore) Load() (map[core.ItemKey]core.Listing, map[string]decimal.Decimal, error) {
	listings := make(map[core.ItemKey]core.Listing)

	rows, err := s.db.Query(`SELECT collection, token_id, seller, price, end_time, highest_bidder FROM listings`)
	if err != nil {
		return nil, nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			collection    string
			tokenID       int64
			sellerID      string
			price         string
			endTime       int64
			highestBidder string
		)
		if err := rows.Scan(&collection, &tokenID, &sellerID, &price, &endTime, &highestBidder); err != nil {
			return nil, nil, fmt.Errorf("scan listing: %w", err)
		}
		priceDec, err := decimal.NewFromString(price)
		if err != nil {
			return nil, nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		item := core.ItemKey{Collection: collection, TokenID: uint64(tokenID)}
		listings[item] = core.Listing{
			Seller:        sellerID,
			Price:         priceDec,
			EndTime:       time.Unix(0, endTime).UTC(),
			HighestBidder: highestBidder,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate listings: %w", err)
	}

	balances := make(map[string]decimal.Decimal)

	balanceRows, err := s.db.Query(`SELECT account, balance FROM proceeds`)
	if err != nil {
		return nil, nil, fmt.Errorf("query proceeds: %w", err)
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var account, balance string
		if err := balanceRows.Scan(&account, &balance); err != nil {
			return nil, nil, fmt.Errorf("scan balance: %w", err)
		}
		balanceDec, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, nil, fmt.Errorf("parse balance %q: %w", balance, err)
		}
		if balanceDec.IsZero() {
			continue
		}
		balances[account] = balanceDec
	}
	if err := balanceRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proceeds: %w", err)
	}

	return listings, balances, nil
}
