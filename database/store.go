// Copyright (C) 2023-2026, Gero Labs. All rights reserved.
// See the file LICENSE for licensing terms.

// Package database is the persistence layer. Every write goes through the
// batched upsert operations here; each batch runs in its own transaction.
package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gerolabs/prise/chain"
	"github.com/gerolabs/prise/metrics"
	"github.com/gerolabs/prise/model"
)

// poolReserveChunkSize bounds the rows sent per composite statement.
const poolReserveChunkSize = 500

// Store wraps the indexer's PostgreSQL connection pool.
type Store struct {
	db      *sql.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Open connects, bounds the pool, and applies pending migrations.
func Open(ctx context.Context, dsn string, poolSize int, m *metrics.Metrics, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, metrics: m, logger: logger.Named("store")}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// policyIDHexLen is the length of a hex-encoded minting policy id; the
// remainder of an asset unit is the hex-encoded token name.
const policyIDHexLen = 56

// UpsertAssets ensures a row per unit and returns the unit to id mapping.
// On first sighting the on-chain token name is recorded when it decodes to
// printable text; an already-recorded name is never overwritten.
// Idempotent; runs on the hot path for every persisted batch.
func (s *Store) UpsertAssets(ctx context.Context, units []string) (map[string]int64, error) {
	units = uniq(units)
	if len(units) == 0 {
		return map[string]int64{}, nil
	}
	names := make([]sql.NullString, len(units))
	for i, unit := range units {
		names[i] = assetDisplayName(unit)
	}
	const q = `
		INSERT INTO asset (unit, name)
		SELECT t.unit, t.name
		FROM unnest($1::text[], $2::text[]) AS t(unit, name)
		ON CONFLICT (unit) DO UPDATE SET name = COALESCE(asset.name, EXCLUDED.name)
		RETURNING id, unit`
	return s.upsertIDMap(ctx, q, pq.Array(units), pq.Array(names))
}

// assetDisplayName hex-decodes the token-name part of a unit and returns
// it when the result is non-empty printable ASCII.
func assetDisplayName(unit string) sql.NullString {
	if unit == chain.LovelaceUnit || len(unit) <= policyIDHexLen {
		return sql.NullString{}
	}
	raw, err := hex.DecodeString(unit[policyIDHexLen:])
	if err != nil || len(raw) == 0 {
		return sql.NullString{}
	}
	for _, b := range raw {
		if b < 0x20 || b > 0x7e {
			return sql.NullString{}
		}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// UpsertTransactions ensures a row per transaction hash and returns the
// hash to id mapping.
func (s *Store) UpsertTransactions(ctx context.Context, hashes []string) (map[string]int64, error) {
	hashes = uniq(hashes)
	if len(hashes) == 0 {
		return map[string]int64{}, nil
	}
	const q = `
		INSERT INTO tx (hash)
		SELECT decode(h, 'hex') FROM unnest($1::text[]) AS h
		ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
		RETURNING id, encode(hash, 'hex')`
	return s.upsertIDMap(ctx, q, pq.Array(hashes))
}

func (s *Store) upsertIDMap(ctx context.Context, q string, args ...interface{}) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("upsert query: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]int64)
	for rows.Next() {
		var (
			id  int64
			key string
		)
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("upsert scan: %w", err)
		}
		ids[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upsert rows: %w", err)
	}
	return ids, nil
}

// AssetDecimals loads the known decimal precisions from the registry.
func (s *Store) AssetDecimals(ctx context.Context) (map[string]int32, error) {
	const q = `SELECT unit, decimals FROM asset WHERE decimals IS NOT NULL`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("asset decimals query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int32)
	for rows.Next() {
		var (
			unit     string
			decimals int32
		)
		if err := rows.Scan(&unit, &decimals); err != nil {
			return nil, fmt.Errorf("asset decimals scan: %w", err)
		}
		out[unit] = decimals
	}
	return out, rows.Err()
}

// LatestPriceTime returns the most recent persisted price time, or ok=false
// when the store is empty. Used to pick the sync starting point.
func (s *Store) LatestPriceTime(ctx context.Context) (int64, bool, error) {
	const q = `SELECT max(time) FROM price`
	var t sql.NullInt64
	if err := s.db.QueryRowContext(ctx, q).Scan(&t); err != nil {
		return 0, false, fmt.Errorf("latest price time: %w", err)
	}
	return t.Int64, t.Valid, nil
}

// PersistPrices resolves dependencies, then writes the batch and refreshes
// latest_price in one composite statement per transaction.
func (s *Store) PersistPrices(ctx context.Context, prices []model.Price) error {
	if len(prices) == 0 {
		return nil
	}
	units := make([]string, 0, len(prices)*2)
	hashes := make([]string, 0, len(prices))
	for _, p := range prices {
		units = append(units, p.AssetUnit, p.QuoteAssetUnit)
		hashes = append(hashes, p.TxHash)
	}
	assetIDs, err := s.UpsertAssets(ctx, units)
	if err != nil {
		return err
	}
	txIDs, err := s.UpsertTransactions(ctx, hashes)
	if err != nil {
		return err
	}

	rows := make([]priceRow, 0, len(prices))
	for _, p := range prices {
		assetID, ok1 := assetIDs[p.AssetUnit]
		quoteID, ok2 := assetIDs[p.QuoteAssetUnit]
		txID, ok3 := txIDs[p.TxHash]
		if !ok1 || !ok2 || !ok3 {
			s.logger.Warn("dropping price with unresolved dependencies",
				zap.String("asset", p.AssetUnit), zap.String("tx", p.TxHash))
			continue
		}
		rows = append(rows, priceRow{p: p, assetID: assetID, quoteID: quoteID, txID: txID})
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price batch: %w", err)
	}
	defer tx.Rollback()
	if err := insertPrices(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit price batch: %w", err)
	}
	if s.metrics != nil {
		s.metrics.PricesPersisted.Add(float64(len(rows)))
	}
	return nil
}

type priceRow struct {
	p       model.Price
	assetID int64
	quoteID int64
	txID    int64
}

// insertPrices performs the append-style upsert and the latest-per-pair
// refresh in one round-trip.
func insertPrices(ctx context.Context, tx *sql.Tx, rows []priceRow) error {
	n := len(rows)
	var (
		assetIDs  = make([]int64, n)
		quoteIDs  = make([]int64, n)
		providers = make([]string, n)
		times     = make([]int64, n)
		txIDs     = make([]int64, n)
		swapIdxs  = make([]int64, n)
		values    = make([]float64, n)
		amounts1  = make([]int64, n)
		amounts2  = make([]int64, n)
		ops       = make([]int64, n)
		outliers  = make([]sql.NullBool, n)
	)
	for i, r := range rows {
		assetIDs[i] = r.assetID
		quoteIDs[i] = r.quoteID
		providers[i] = r.p.Provider
		times[i] = r.p.Time
		txIDs[i] = r.txID
		swapIdxs[i] = int64(r.p.SwapIdx)
		values[i] = r.p.Price
		amounts1[i] = r.p.Amount1
		amounts2[i] = r.p.Amount2
		ops[i] = int64(r.p.Operation)
		outliers[i] = r.p.Outlier
	}
	const q = `
		WITH incoming AS (
			SELECT * FROM unnest(
				$1::bigint[], $2::bigint[], $3::text[], $4::bigint[],
				$5::bigint[], $6::bigint[], $7::float8[], $8::bigint[],
				$9::bigint[], $10::smallint[], $11::boolean[]
			) AS t(asset_id, quote_asset_id, provider, time, tx_id,
			       swap_idx, price, amount1, amount2, operation, outlier)
		), inserted AS (
			INSERT INTO price (asset_id, quote_asset_id, provider, time,
			                   tx_id, swap_idx, price, amount1, amount2,
			                   operation, outlier)
			SELECT asset_id, quote_asset_id, provider, time, tx_id,
			       swap_idx, price, amount1, amount2, operation, outlier
			FROM incoming
			ON CONFLICT (asset_id, quote_asset_id, time, tx_id, swap_idx)
			DO UPDATE SET provider = EXCLUDED.provider,
			              price = EXCLUDED.price,
			              amount1 = EXCLUDED.amount1,
			              amount2 = EXCLUDED.amount2,
			              operation = EXCLUDED.operation,
			              outlier = EXCLUDED.outlier
		)
		INSERT INTO latest_price (asset_id, quote_asset_id, provider, time,
		                          tx_id, swap_idx, price, amount1, amount2,
		                          operation, outlier)
		SELECT DISTINCT ON (asset_id, quote_asset_id)
		       asset_id, quote_asset_id, provider, time, tx_id, swap_idx,
		       price, amount1, amount2, operation, outlier
		FROM incoming
		ORDER BY asset_id, quote_asset_id, time DESC, tx_id DESC, swap_idx DESC
		ON CONFLICT (asset_id, quote_asset_id)
		DO UPDATE SET provider = EXCLUDED.provider,
		              time = EXCLUDED.time,
		              tx_id = EXCLUDED.tx_id,
		              swap_idx = EXCLUDED.swap_idx,
		              price = EXCLUDED.price,
		              amount1 = EXCLUDED.amount1,
		              amount2 = EXCLUDED.amount2,
		              operation = EXCLUDED.operation,
		              outlier = EXCLUDED.outlier
		WHERE latest_price.time <= EXCLUDED.time`
	_, err := tx.ExecContext(ctx, q,
		pq.Array(assetIDs), pq.Array(quoteIDs), pq.Array(providers),
		pq.Array(times), pq.Array(txIDs), pq.Array(swapIdxs),
		pq.Array(values), pq.Array(amounts1), pq.Array(amounts2),
		pq.Array(ops), pq.Array(outliers))
	if err != nil {
		return fmt.Errorf("insert prices: %w", err)
	}
	return nil
}

// PersistPoolReserves resolves dependencies, deduplicates by (pool, time)
// keeping the last occurrence, and writes in chunks of 500.
func (s *Store) PersistPoolReserves(ctx context.Context, reserves []model.PoolReserve, timeOf func(slot uint64) int64) error {
	if len(reserves) == 0 {
		return nil
	}
	units := make([]string, 0, len(reserves)*2)
	hashes := make([]string, 0, len(reserves))
	for _, r := range reserves {
		units = append(units, r.Asset1Unit, r.Asset2Unit)
		hashes = append(hashes, r.TxHash)
	}
	assetIDs, err := s.UpsertAssets(ctx, units)
	if err != nil {
		return err
	}
	txIDs, err := s.UpsertTransactions(ctx, hashes)
	if err != nil {
		return err
	}

	rows := make([]reserveRow, 0, len(reserves))
	for _, r := range reserves {
		asset1ID, ok1 := assetIDs[r.Asset1Unit]
		asset2ID, ok2 := assetIDs[r.Asset2Unit]
		txID, ok3 := txIDs[r.TxHash]
		if !ok1 || !ok2 || !ok3 {
			s.logger.Warn("dropping pool reserve with unresolved dependencies",
				zap.String("pool", r.PoolID), zap.String("tx", r.TxHash))
			continue
		}
		rows = append(rows, reserveRow{
			r: r, asset1ID: asset1ID, asset2ID: asset2ID,
			txID: txID, time: timeOf(r.Slot),
		})
	}
	rows = dedupeReserveRows(rows)

	for start := 0; start < len(rows); start += poolReserveChunkSize {
		end := start + poolReserveChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.persistReserveChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

type reserveRow struct {
	r        model.PoolReserve
	asset1ID int64
	asset2ID int64
	txID     int64
	time     int64
}

// dedupeReserveRows collapses rows sharing (pool id, time) to the last
// occurrence. Multiple transactions in one block may touch the same pool at
// the same slot; only the final state satisfies the primary key.
func dedupeReserveRows(rows []reserveRow) []reserveRow {
	type key struct {
		pool string
		time int64
	}
	last := make(map[key]int, len(rows))
	for i, r := range rows {
		last[key{r.r.PoolID, r.time}] = i
	}
	out := make([]reserveRow, 0, len(last))
	for i, r := range rows {
		if last[key{r.r.PoolID, r.time}] == i {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) persistReserveChunk(ctx context.Context, rows []reserveRow) error {
	n := len(rows)
	var (
		poolIDs   = make([]string, n)
		asset1IDs = make([]int64, n)
		asset2IDs = make([]int64, n)
		providers = make([]string, n)
		times     = make([]int64, n)
		reserves1 = make([]int64, n)
		reserves2 = make([]int64, n)
		txIDs     = make([]int64, n)
	)
	for i, r := range rows {
		poolIDs[i] = r.r.PoolID
		asset1IDs[i] = r.asset1ID
		asset2IDs[i] = r.asset2ID
		providers[i] = r.r.Provider
		times[i] = r.time
		reserves1[i] = r.r.Reserve1
		reserves2[i] = r.r.Reserve2
		txIDs[i] = r.txID
	}
	const q = `
		WITH incoming AS (
			SELECT * FROM unnest(
				$1::text[], $2::bigint[], $3::bigint[], $4::text[],
				$5::bigint[], $6::bigint[], $7::bigint[], $8::bigint[]
			) AS t(pool_id, asset1_id, asset2_id, provider, time,
			       reserve1, reserve2, tx_id)
		), inserted AS (
			INSERT INTO pool_reserve (pool_id, asset1_id, asset2_id,
			                          provider, time, reserve1, reserve2,
			                          tx_id)
			SELECT pool_id, asset1_id, asset2_id, provider, time,
			       reserve1, reserve2, tx_id
			FROM incoming
			ON CONFLICT (pool_id, time)
			DO UPDATE SET asset1_id = EXCLUDED.asset1_id,
			              asset2_id = EXCLUDED.asset2_id,
			              provider = EXCLUDED.provider,
			              reserve1 = EXCLUDED.reserve1,
			              reserve2 = EXCLUDED.reserve2,
			              tx_id = EXCLUDED.tx_id
		)
		INSERT INTO latest_pool_reserve (pool_id, asset1_id, asset2_id,
		                                 provider, time, reserve1, reserve2,
		                                 tx_id)
		SELECT DISTINCT ON (pool_id)
		       pool_id, asset1_id, asset2_id, provider, time, reserve1,
		       reserve2, tx_id
		FROM incoming
		ORDER BY pool_id, time DESC
		ON CONFLICT (pool_id)
		DO UPDATE SET asset1_id = EXCLUDED.asset1_id,
		              asset2_id = EXCLUDED.asset2_id,
		              provider = EXCLUDED.provider,
		              time = EXCLUDED.time,
		              reserve1 = EXCLUDED.reserve1,
		              reserve2 = EXCLUDED.reserve2,
		              tx_id = EXCLUDED.tx_id
		WHERE latest_pool_reserve.time <= EXCLUDED.time`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve batch: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, q,
		pq.Array(poolIDs), pq.Array(asset1IDs), pq.Array(asset2IDs),
		pq.Array(providers), pq.Array(times), pq.Array(reserves1),
		pq.Array(reserves2), pq.Array(txIDs))
	if err != nil {
		return fmt.Errorf("insert pool reserves: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve batch: %w", err)
	}
	return nil
}

// DeleteAfter removes rows newer than timeSeconds and rebuilds the
// latest_* tables from what remains. Called on rollback so orphaned-chain
// data cannot linger in the read path while the canonical chain replays.
func (s *Store) DeleteAfter(ctx context.Context, timeSeconds int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback delete: %w", err)
	}
	defer tx.Rollback()

	// Deletes and rebuilds run as separate statements: a rebuild in the
	// same statement would not see the deleted rows.
	statements := []string{
		`DELETE FROM price WHERE time > $1`,
		`DELETE FROM pool_reserve WHERE time > $1`,
		`DELETE FROM latest_price WHERE time > $1`,
		`DELETE FROM latest_pool_reserve WHERE time > $1`,
		`INSERT INTO latest_price (asset_id, quote_asset_id, provider, time,
		                           tx_id, swap_idx, price, amount1, amount2,
		                           operation, outlier)
		 SELECT DISTINCT ON (asset_id, quote_asset_id)
		        asset_id, quote_asset_id, provider, time, tx_id, swap_idx,
		        price, amount1, amount2, operation, outlier
		 FROM price
		 WHERE time <= $1
		 ORDER BY asset_id, quote_asset_id, time DESC, tx_id DESC, swap_idx DESC
		 ON CONFLICT (asset_id, quote_asset_id) DO NOTHING`,
		`INSERT INTO latest_pool_reserve (pool_id, asset1_id, asset2_id,
		                                  provider, time, reserve1, reserve2,
		                                  tx_id)
		 SELECT DISTINCT ON (pool_id)
		        pool_id, asset1_id, asset2_id, provider, time, reserve1,
		        reserve2, tx_id
		 FROM pool_reserve
		 WHERE time <= $1
		 ORDER BY pool_id, time DESC
		 ON CONFLICT (pool_id) DO NOTHING`,
	}
	for _, q := range statements {
		if _, err := tx.ExecContext(ctx, q, timeSeconds); err != nil {
			return fmt.Errorf("rollback delete after %d: %w", timeSeconds, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback delete: %w", err)
	}
	s.logger.Info("discarded rows newer than rollback point", zap.Int64("time", timeSeconds))
	return nil
}

// RefreshViews refreshes the aggregate views derived from freshly persisted
// prices. Only invoked when the sync is live; during catch-up the refresh
// jobs run on their own schedule.
func (s *Store) RefreshViews(ctx context.Context, prices []model.Price) error {
	if len(prices) == 0 {
		return nil
	}
	const q = `REFRESH MATERIALIZED VIEW CONCURRENTLY latest_candle`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("refresh views: %w", err)
	}
	return nil
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
