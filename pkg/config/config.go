package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/campuspulse"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultTimeZone     = "Asia/Kolkata"
)

// Background task intervals
const (
	BadgerGCInterval      = 10 * time.Minute
	BadgerGCDiscardRatio  = 0.5
	ModelProbeInterval    = 5 * time.Minute
	StorageUsageCacheTTL  = 10 * time.Second
	ServerReadTimeout     = 10 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Request timeouts and limits
const (
	WriteTimeout       = 5 * time.Second
	ReadTimeout        = 10 * time.Second
	ModelCallTimeout   = 60 * time.Second
	MaxRequestBodySize = 1 << 20
	MaxPhotoSize       = 8 << 20
	LiveAlertsLimit    = 5
	RecentRatingsLimit = 20
	NutritionDiarySize = 50
)

// Live subscription delivery
const (
	// SnapshotBuffer is the per-subscription event buffer. Delivery is
	// latest-wins once the buffer is full.
	SnapshotBuffer = 1
	// CommandBuffer bounds the filter controller's inbox.
	CommandBuffer = 16
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSChannelBuffer   = 10
	WSSendBuffer      = 8
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
	WSMaxMessageSize  = 4096
)
