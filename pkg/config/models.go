package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Liveness  LivenessConfig
	Directory DirectoryConfig `mapstructure:"directory"`
	LogLevel  string          `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address   string
	Auth      AuthConfig
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type RateLimitConfig struct {
	// MaxConnsPerIP caps simultaneous sockets per remote address.
	// Zero or negative disables the limit.
	MaxConnsPerIP int `mapstructure:"maxConnsPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type LivenessConfig struct {
	// Interval between probe sweeps over all open connections.
	Interval time.Duration `mapstructure:"interval"`
	// ProbeTimeout bounds how long a single ping may wait for its pong.
	ProbeTimeout time.Duration `mapstructure:"probeTimeout"`
}

// DirectoryConfig seeds the in-memory directory store when the server
// runs standalone. A production deployment wires a real store instead
// and leaves this block empty.
type DirectoryConfig struct {
	Users         []UserSeed         `mapstructure:"users"`
	Whiteboards   []WhiteboardSeed   `mapstructure:"whiteboards"`
	Conversations []ConversationSeed `mapstructure:"conversations"`
}

type UserSeed struct {
	ID          string `mapstructure:"id"`
	DisplayName string `mapstructure:"displayName"`
	Email       string `mapstructure:"email"`
	Role        string `mapstructure:"role"`
}

type WhiteboardSeed struct {
	ID           string            `mapstructure:"id"`
	OwnerID      string            `mapstructure:"ownerId"`
	IsPublic     bool              `mapstructure:"isPublic"`
	Participants map[string]string `mapstructure:"participants"` // userID -> role name
}

type ConversationSeed struct {
	ID           string   `mapstructure:"id"`
	Participants []string `mapstructure:"participants"` // exactly two user IDs
}
