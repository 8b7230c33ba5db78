// Package clickhouse inserts statistics records into a ClickHouse MergeTree
// table.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"firestige.xyz/tcpgeek/internal/core"
	"firestige.xyz/tcpgeek/internal/stats"
)

const Name = "clickhouse"

const defaultTable = "tcpgeek_stats"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp          DateTime,
    Probe              String,
    Protocol           UInt8,
    ClientIP           String,
    ClientPort         UInt16,
    ServerIP           String,
    ServerPort         UInt16,
    Topology           FixedString(1),
    ClientPackets      UInt64,
    ServerPackets      UInt64,
    ClientBytes        UInt64,
    ServerBytes        UInt64,
    ClientPayload      UInt64,
    ServerPayload      UInt64,
    ClientDuplicates   UInt64,
    ServerDuplicates   UInt64,
    ClientOutOfOrder   UInt64,
    ServerOutOfOrder   UInt64,
    ClientActiveGaps   UInt64,
    ServerActiveGaps   UInt64,
    ClientRetransmits  UInt64,
    ServerRetransmits  UInt64,
    Operations         UInt64,
    ClientIdleUs       Int64,
    RequestUs          Int64,
    ThinkUs            Int64,
    ResponseUs         Int64,
    IdleUs             Int64,
    ErrorBits          UInt8,
    RttUs              Int64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (ServerIP, ServerPort, Timestamp);
`

// Config is the ClickHouse sink configuration.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Table    string `mapstructure:"table"`
}

// Sink batches every flush into one insert.
type Sink struct {
	conn       driver.Conn
	table      string
	instanceID string
	subnets    core.Subnets
}

func init() {
	stats.Register(Name, func(opts map[string]any, env stats.Env) (stats.Sink, error) {
		cfg := Config{Host: "localhost", Port: 9000, Database: "default", Table: defaultTable}
		if err := stats.DecodeOptions(opts, &cfg); err != nil {
			return nil, err
		}
		return New(cfg, env)
	})
}

// New connects to ClickHouse and makes sure the table exists.
func New(cfg Config, env stats.Env) (*Sink, error) {
	if cfg.Table == "" {
		cfg.Table = defaultTable
	}
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	slog.Info("connected to clickhouse", "host", cfg.Host, "database", cfg.Database, "table", cfg.Table)

	return &Sink{conn: conn, table: cfg.Table, instanceID: env.InstanceID, subnets: env.Subnets}, nil
}

func connect(cfg Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (s *Sink) Name() string {
	return Name
}

func (s *Sink) Write(ctx context.Context, records []core.StatRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i := range records {
		if err := batch.Append(row(&records[i], s.instanceID, s.subnets)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// row lays out rec in table column order.
func row(rec *core.StatRecord, probe string, subnets core.Subnets) []any {
	c, s := &rec.Client, &rec.Server
	return []any{
		time.Unix(rec.Timestamp/1_000_000, 0).UTC(),
		probe,
		uint8(rec.Key.Proto),
		rec.Key.ClientIP.String(),
		rec.Key.ClientPort,
		rec.Key.ServerIP.String(),
		rec.Key.ServerPort,
		string(subnets.Topology(rec.Key.ClientIP, rec.Key.ServerIP)),
		c.Packets, s.Packets,
		c.Bytes, s.Bytes,
		c.Payload, s.Payload,
		c.Duplicates, s.Duplicates,
		c.OutOfOrder, s.OutOfOrder,
		c.ActiveGaps, s.ActiveGaps,
		c.Retransmits, s.Retransmits,
		rec.Operations,
		rec.ClientIdle, rec.Request, rec.Think, rec.Response, rec.Idle,
		rec.ErrorBits,
		rec.RTT,
	}
}

func (s *Sink) Close() error {
	return s.conn.Close()
}
