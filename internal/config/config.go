package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	MinIdleTimeoutSeconds = 600
	MaxIdleTimeoutSeconds = 86400
	MinSecretKeyLength    = 32
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/terminals.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/terminals.log"`

	// Public base URL containers use to reach the callback API.
	APIBaseURL      string `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	LocaltunnelHost string `envconfig:"LOCALTUNNEL_HOST" default:"https://localtunnel.me"`

	// SecretKey keys callback HMAC tokens and signs admin JWTs.
	SecretKey         string        `envconfig:"SECRET_KEY"`
	AdminUsername     string        `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword     string        `envconfig:"ADMIN_PASSWORD"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminTokenTTL     time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"60m"`

	// Container platform
	ContainerPlatform string  `envconfig:"CONTAINER_PLATFORM" default:"auto"`
	DockerHost        string  `envconfig:"DOCKER_HOST" default:""`
	DockerNetwork     string  `envconfig:"DOCKER_NETWORK" default:"public-terminals_default"`
	UseGVisor         bool    `envconfig:"USE_GVISOR" default:"false"`
	K8sNamespace      string  `envconfig:"K8S_NAMESPACE" default:"default"`
	TerminalImage     string  `envconfig:"TERMINAL_IMAGE" default:"terminal-server:latest"`
	MemoryLimit       string  `envconfig:"CONTAINER_MEMORY_LIMIT" default:"1g"`
	CPULimit          float64 `envconfig:"CONTAINER_CPU_LIMIT" default:"1.0"`
	ContainerPort     int     `envconfig:"CONTAINER_PORT" default:"8888"`

	// Lifecycle
	MaxContainers      int           `envconfig:"MAX_CONTAINERS" default:"240"`
	TTL                time.Duration `envconfig:"TTL" default:"24h"`
	IdleTimeoutSeconds int           `envconfig:"IDLE_TIMEOUT_SECONDS" default:"3600"`
	StuckThreshold     time.Duration `envconfig:"STUCK_THRESHOLD" default:"1h"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	DriverTimeout      time.Duration `envconfig:"DRIVER_TIMEOUT" default:"30s"`

	// Readiness polling
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	PollAttempts       int           `envconfig:"POLL_ATTEMPTS" default:"60"`
	PollViaHostPort    bool          `envconfig:"POLL_VIA_HOST_PORT" default:"false"`
	ReadinessPath      string        `envconfig:"READINESS_PATH" default:"/status"`
	StatsCacheMaxAge   time.Duration `envconfig:"STATS_CACHE_MAX_AGE" default:"5m"`
}

var Cfg Settings

// IdleTimeout returns the configured idle timeout as a duration.
func (s Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSeconds) * time.Second
}

// CallbackURL is the base URL handed to containers for reporting back.
func (s Settings) CallbackURL() string {
	return s.APIBaseURL + "/api/v1/callbacks"
}

// Validate reports configuration that must prevent startup.
func (s Settings) Validate() error {
	if s.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY must be set (generate one with: openssl rand -hex 32)")
	}
	if len(s.SecretKey) < MinSecretKeyLength {
		return fmt.Errorf("SECRET_KEY is too short (%d characters, minimum %d)", len(s.SecretKey), MinSecretKeyLength)
	}
	if s.IdleTimeoutSeconds < MinIdleTimeoutSeconds {
		return fmt.Errorf("IDLE_TIMEOUT_SECONDS must be at least %d", MinIdleTimeoutSeconds)
	}
	if s.IdleTimeoutSeconds > MaxIdleTimeoutSeconds {
		return fmt.Errorf("IDLE_TIMEOUT_SECONDS must be at most %d", MaxIdleTimeoutSeconds)
	}
	if s.MaxContainers <= 0 {
		return fmt.Errorf("MAX_CONTAINERS must be positive")
	}
	if s.PollAttempts <= 0 {
		return fmt.Errorf("POLL_ATTEMPTS must be positive")
	}
	for name, d := range map[string]time.Duration{
		"TTL":             s.TTL,
		"STUCK_THRESHOLD": s.StuckThreshold,
		"SWEEP_INTERVAL":  s.SweepInterval,
		"POLL_INTERVAL":   s.PollInterval,
		"DRIVER_TIMEOUT":  s.DriverTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	switch s.ContainerPlatform {
	case "auto", "docker", "kubernetes":
	default:
		return fmt.Errorf("CONTAINER_PLATFORM must be one of auto, docker, kubernetes (got %q)", s.ContainerPlatform)
	}
	return nil
}

func Load() {
	if err := envconfig.Process("TERMINALS", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := Cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
}
