package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Timeout for HTTP calls to peer nodes
const PeerRequestTimeout = 10 * time.Second

// Maximum votes accepted or served per replication batch
const ReplicationBatchLimit = 100

// Backdate applied when synthesizing a session from an orphan disconnect
const OrphanSessionBackdate = 5 * time.Minute

// Tolerated clock skew for log event timestamps
const EventFutureTolerance = 5 * time.Minute

// Window for matching a replicated vote against an existing local one
const ReplicationDedupWindow = time.Hour

// Buffered capacity of the watcher-to-session-manager event queue
const SessionEventQueueSize = 256
