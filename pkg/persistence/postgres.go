package persistence

import (
	"database/sql"
	"fmt"
	"log"
	"net"
	"time"

	_ "github.com/lib/pq"
)

// PostgresAuditStore is an optional rakserver.AuditSink that inserts a
// row for every connection admitted and sets that row's disconnected_at
// when the disconnection is observed, for deployments that want a durable record of peer activity beyond
// the structured logs.
type PostgresAuditStore struct {
	db *sql.DB
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewPostgresAuditStore connects, verifies the connection, and
// ensures the audit schema exists.
func NewPostgresAuditStore(config Config) (*PostgresAuditStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host,
		config.Port,
		config.User,
		config.Password,
		config.DBName,
		config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresAuditStore{db: db}

	if err := store.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Println("PostgreSQL audit store connection established")
	return store, nil
}

// InitSchema creates the connections table if it doesn't exist.
func (ps *PostgresAuditStore) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connections (
		id BIGSERIAL PRIMARY KEY,
		guid BIGINT NOT NULL,
		remote_addr VARCHAR(64) NOT NULL,
		connected_at TIMESTAMP NOT NULL,
		disconnected_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_connections_guid ON connections(guid);
	CREATE INDEX IF NOT EXISTS idx_connections_open ON connections(disconnected_at) WHERE disconnected_at IS NULL;
	`

	_, err := ps.db.Exec(schema)
	return err
}

// RecordConnected inserts an open connection row. It implements
// rakserver.AuditSink; errors are logged rather than returned since
// audit failures must never affect the accept path.
func (ps *PostgresAuditStore) RecordConnected(addr *net.UDPAddr, guid uint64) {
	query := `INSERT INTO connections (guid, remote_addr, connected_at) VALUES ($1, $2, NOW())`
	if _, err := ps.db.Exec(query, int64(guid), addr.String()); err != nil {
		log.Printf("audit: failed to record connection for guid %d: %v", guid, err)
	}
}

// RecordDisconnected closes the most recent open row for guid.
func (ps *PostgresAuditStore) RecordDisconnected(addr *net.UDPAddr, guid uint64) {
	query := `
		UPDATE connections SET disconnected_at = NOW()
		WHERE id = (
			SELECT id FROM connections
			WHERE guid = $1 AND disconnected_at IS NULL
			ORDER BY connected_at DESC
			LIMIT 1
		)
	`
	if _, err := ps.db.Exec(query, int64(guid)); err != nil {
		log.Printf("audit: failed to record disconnection for guid %d: %v", guid, err)
	}
}

// ConnectionRecord is one row of the connections audit table.
type ConnectionRecord struct {
	GUID           uint64
	RemoteAddr     string
	ConnectedAt    time.Time
	DisconnectedAt sql.NullTime
}

// RecentConnections returns the most recent audit rows, newest first.
func (ps *PostgresAuditStore) RecentConnections(limit int) ([]ConnectionRecord, error) {
	query := `
		SELECT guid, remote_addr, connected_at, disconnected_at
		FROM connections
		ORDER BY connected_at DESC
		LIMIT $1
	`
	rows, err := ps.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConnectionRecord
	for rows.Next() {
		var rec ConnectionRecord
		var guid int64
		if err := rows.Scan(&guid, &rec.RemoteAddr, &rec.ConnectedAt, &rec.DisconnectedAt); err != nil {
			return nil, err
		}
		rec.GUID = uint64(guid)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (ps *PostgresAuditStore) Close() error {
	log.Println("closing postgres audit store connection")
	return ps.db.Close()
}
