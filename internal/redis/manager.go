// Package redis hands out one rueidis client per logical Redis database.
package redis

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/redis/rueidis"
	"github.com/robalyx/rewind/internal/setup/config"
	"go.uber.org/zap"
)

// DB is a logical Redis database number.
type DB int

const (
	// StatusDB holds worker heartbeats.
	StatusDB DB = 4
	// LockDB holds the purge lease.
	LockDB DB = 5
)

func (db DB) String() string {
	switch db {
	case StatusDB:
		return "status"
	case LockDB:
		return "lock"
	default:
		return "db" + strconv.Itoa(int(db))
	}
}

// Manager dials each database at most once and closes them together.
type Manager struct {
	cfg     *config.Redis
	logger  *zap.Logger
	mu      sync.Mutex
	clients map[DB]rueidis.Client
}

func NewManager(cfg *config.Redis, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger.Named("redis"),
		clients: make(map[DB]rueidis.Client),
	}
}

// Client returns the shared client for db, connecting on first use.
func (m *Manager) Client(db DB) (rueidis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[db]; ok {
		return client, nil
	}

	opts := m.options(db)

	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("redis %s database at %s: %w", db, opts.InitAddress[0], err)
	}

	m.clients[db] = client
	m.logger.Debug("Connected to Redis",
		zap.Stringer("db", db),
		zap.String("addr", opts.InitAddress[0]))

	return client, nil
}

func (m *Manager) options(db DB) rueidis.ClientOption {
	return rueidis.ClientOption{
		InitAddress:         []string{net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))},
		Username:            m.cfg.Username,
		Password:            m.cfg.Password,
		SelectDB:            int(db),
		ClientName:          "rewind-" + db.String(),
		DisableCache:        m.cfg.DisableCache,
		ReadBufferEachConn:  64 << 10,
		WriteBufferEachConn: 64 << 10,
	}
}

// Close disconnects every client opened so far. Later calls are no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[DB]rueidis.Client)
	m.mu.Unlock()

	for db, client := range clients {
		client.Close()
		m.logger.Debug("Disconnected from Redis", zap.Stringer("db", db))
	}
}
