package odp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	_ "github.com/lib/pq"

	"github.com/fluxa-protocol/x402-gateway/internal/config"
)

// PostgresStore is a PostgreSQL-backed SessionStore. Amounts are stored as
// NUMERIC(78,0) columns (enough for a 256-bit unsigned integer) so
// comparisons can happen in SQL without ever touching a float.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
}

// NewPostgresStore opens connectionString and creates the odp_sessions table
// if it does not already exist.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{db: db, ownsDB: true, tableName: "odp_sessions"}
	if err := store.createTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB shares an existing pool (e.g. the one already opened
// for the rest of the service) instead of opening its own connection.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db, ownsDB: false, tableName: "odp_sessions"}
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTable() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT PRIMARY KEY,
			approval JSONB NOT NULL,
			session_signature TEXT NOT NULL,
			settlement_contract TEXT NOT NULL,
			next_nonce NUMERIC(78,0) NOT NULL,
			spent NUMERIC(78,0) NOT NULL,
			receipts JSONB NOT NULL,
			settling BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.tableName)
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName, err)
	}
	return nil
}

// Close closes the underlying connection pool if this store opened it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Get implements SessionStore.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*SessionRecord, bool, error) {
	query := fmt.Sprintf(`SELECT approval, session_signature, settlement_contract, next_nonce, spent, receipts, settling
		FROM %s WHERE session_id = $1`, s.tableName)

	var approvalJSON, receiptsJSON []byte
	var sessionSignature, settlementContract, nextNonceStr, spentStr string
	var settling bool

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&approvalJSON, &sessionSignature, &settlementContract, &nextNonceStr, &spentStr, &receiptsJSON, &settling,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query odp session: %w", err)
	}

	var approval SessionApproval
	if err := json.Unmarshal(approvalJSON, &approval); err != nil {
		return nil, false, fmt.Errorf("decode session approval: %w", err)
	}
	var receipts []Receipt
	if err := json.Unmarshal(receiptsJSON, &receipts); err != nil {
		return nil, false, fmt.Errorf("decode session receipts: %w", err)
	}
	nextNonce, ok := new(big.Int).SetString(nextNonceStr, 10)
	if !ok {
		return nil, false, fmt.Errorf("invalid next_nonce stored for session %s", sessionID)
	}
	spent, ok := new(big.Int).SetString(spentStr, 10)
	if !ok {
		return nil, false, fmt.Errorf("invalid spent stored for session %s", sessionID)
	}

	return &SessionRecord{
		Approval:           approval,
		SessionSignature:   sessionSignature,
		SettlementContract: settlementContract,
		NextNonce:          nextNonce,
		Spent:              spent,
		Receipts:           receipts,
		Settling:           settling,
	}, true, nil
}

// Put implements SessionStore.
func (s *PostgresStore) Put(ctx context.Context, sessionID string, record *SessionRecord) error {
	approvalJSON, err := json.Marshal(record.Approval)
	if err != nil {
		return fmt.Errorf("encode session approval: %w", err)
	}
	receiptsJSON, err := json.Marshal(record.Receipts)
	if err != nil {
		return fmt.Errorf("encode session receipts: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, approval, session_signature, settlement_contract, next_nonce, spent, receipts, settling)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			session_signature = EXCLUDED.session_signature,
			settlement_contract = EXCLUDED.settlement_contract,
			next_nonce = EXCLUDED.next_nonce,
			spent = EXCLUDED.spent,
			receipts = EXCLUDED.receipts,
			settling = EXCLUDED.settling`, s.tableName)

	_, err = s.db.ExecContext(ctx, query, sessionID, approvalJSON, record.SessionSignature, record.SettlementContract,
		record.NextNonce.String(), record.Spent.String(), receiptsJSON, record.Settling)
	if err != nil {
		return fmt.Errorf("upsert odp session: %w", err)
	}
	return nil
}

// Delete implements SessionStore.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.tableName)
	_, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("delete odp session: %w", err)
	}
	return nil
}

// Sessions implements SessionStore.
func (s *PostgresStore) Sessions(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT session_id FROM %s ORDER BY inserted_at ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list odp sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan odp session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
