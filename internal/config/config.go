package config

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Exec      ExecConfig      `yaml:"exec"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	SSHGw     SSHGwConfig     `yaml:"ssh_gateway"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`

	trustedNets []net.IPNet
}

// ServiceConfig identifies this service instance. The serial is embedded in
// proxy destination names (<device>.<serial>.proxy) handed out to clients.
type ServiceConfig struct {
	Serial      string `yaml:"serial"`
	Name        string `yaml:"name"`
	DevicesFile string `yaml:"devices_file"`
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BasePath        string        `yaml:"base_path"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path                    string        `yaml:"path"`
	MaxReadConns            int           `yaml:"max_read_conns"`
	CommandLogRetentionDays int           `yaml:"command_log_retention_days"`
	RetentionPeriod         time.Duration `yaml:"retention_period"`
}

type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

type APIKeyConfig struct {
	Name        string   `yaml:"name"`
	Hash        string   `yaml:"hash"`
	Role        string   `yaml:"role,omitempty"`
	SuperAdmin  bool     `yaml:"super_admin,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

var AllPermissions = []string{
	"devices.read", "devices.write",
	"exec.run", "exec.interactive",
	"inventory.read", "service.read",
	"proxy.use", "transfer.write",
	"snapshots.read", "snapshots.write",
}

func (k *APIKeyConfig) HasPermission(perm string) bool {
	if k.SuperAdmin {
		return true
	}
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ExecConfig carries defaults for command execution against devices.
type ExecConfig struct {
	Workers            int           `yaml:"workers"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	ExecTimeout        time.Duration `yaml:"exec_timeout"`
	WaitTimeout        time.Duration `yaml:"wait_timeout"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	RemovePrompts      *bool         `yaml:"remove_prompts"`
}

// ProxyConfig configures the local HTTP and SOCKS proxy pair.
type ProxyConfig struct {
	Enabled      bool     `yaml:"enabled"`
	HTTPPort     int      `yaml:"http_port"`
	SOCKSPort    int      `yaml:"socks_port"`
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	AllowedHosts []string `yaml:"allowed_hosts"`
}

// SSHGwConfig configures the SSH gateway. The SSH username selects the
// target device, so only a shared password guards the listener.
type SSHGwConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Listen       string `yaml:"listen"`
	HostKeyPath  string `yaml:"host_key_path"`
	PasswordHash string `yaml:"password_hash"`
}

type TransportConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	KnownHostsPath    string        `yaml:"known_hosts_path"`
	InsecureHostKeys  bool          `yaml:"insecure_host_keys"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "drawbridge",
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8181",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxBodySize:     4 << 20, // device HTTP bodies can be large
			RateLimitPerSec: 30,
			RateLimitBurst:  60,
		},
		Database: DatabaseConfig{
			Path:                    "drawbridge.db",
			MaxReadConns:            4,
			CommandLogRetentionDays: 30,
			RetentionPeriod:         1 * time.Hour,
		},
		Exec: ExecConfig{
			Workers:            10,
			CommandTimeout:     15 * time.Second,
			ExecTimeout:        60 * time.Second,
			WaitTimeout:        5 * time.Minute,
			SessionIdleTimeout: 5 * time.Minute,
		},
		Proxy: ProxyConfig{
			HTTPPort:  4001,
			SOCKSPort: 4000,
		},
		SSHGw: SSHGwConfig{
			Listen: "127.0.0.1:2222",
		},
		Transport: TransportConfig{
			ConnectTimeout:    10 * time.Second,
			KeepaliveInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.Server.BasePath = NormalizeBasePath(cfg.Server.BasePath)

	nets, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted_proxies: %w", err)
	}
	cfg.trustedNets = nets

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateExec(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	if err := validateAPIKeys(c.Auth.APIKeys); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateService() error {
	if c.Service.Serial == "" {
		return fmt.Errorf("service.serial is required")
	}
	if strings.ContainsAny(c.Service.Serial, ". /\\") {
		return fmt.Errorf("service.serial must not contain dots, spaces or slashes")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	if c.Server.RateLimitPerSec <= 0 {
		return fmt.Errorf("server.rate_limit_per_sec must be positive")
	}
	if c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive")
	}
	if bp := c.Server.BasePath; bp != "" {
		if strings.Contains(bp, "..") || strings.Contains(bp, "?") || strings.Contains(bp, "#") || strings.Contains(bp, "\\") {
			return fmt.Errorf("server.base_path contains invalid characters")
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.MaxReadConns <= 0 {
		return fmt.Errorf("database.max_read_conns must be positive")
	}
	if c.Database.CommandLogRetentionDays <= 0 {
		return fmt.Errorf("database.command_log_retention_days must be positive")
	}
	return nil
}

func (c *Config) validateExec() error {
	if c.Exec.Workers <= 0 {
		return fmt.Errorf("exec.workers must be positive")
	}
	if c.Exec.CommandTimeout <= 0 {
		return fmt.Errorf("exec.command_timeout must be positive")
	}
	if c.Exec.ExecTimeout < 0 || c.Exec.WaitTimeout < 0 {
		return fmt.Errorf("exec timeouts must be non-negative")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if !c.Proxy.Enabled {
		return nil
	}
	if c.Proxy.HTTPPort == c.Proxy.SOCKSPort {
		return fmt.Errorf("proxy.http_port and proxy.socks_port cannot be the same")
	}
	for name, port := range map[string]int{
		"proxy.http_port":  c.Proxy.HTTPPort,
		"proxy.socks_port": c.Proxy.SOCKSPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if c.Proxy.Username == "" || c.Proxy.PasswordHash == "" {
		return fmt.Errorf("proxy.username and proxy.password_hash are required when the proxy is enabled")
	}
	return nil
}

func validateAPIKeys(keys []APIKeyConfig) error {
	validPerms := make(map[string]bool)
	for _, p := range AllPermissions {
		validPerms[p] = true
	}

	for i := range keys {
		key := &keys[i]
		if key.Name == "" {
			return fmt.Errorf("auth.api_keys[%d].name is required", i)
		}
		if key.Hash == "" {
			return fmt.Errorf("auth.api_keys[%d].hash is required", i)
		}
		if key.Role == "admin" {
			key.SuperAdmin = true
			key.Role = ""
		} else if key.Role == "readonly" {
			key.Permissions = []string{
				"devices.read", "inventory.read", "service.read", "snapshots.read",
			}
			key.Role = ""
		}
		if !key.SuperAdmin && len(key.Permissions) == 0 {
			return fmt.Errorf("auth.api_keys[%d] must have super_admin or permissions", i)
		}
		for _, p := range key.Permissions {
			if !validPerms[p] {
				return fmt.Errorf("auth.api_keys[%d] invalid permission: %s", i, p)
			}
		}
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

func HashSecret(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// VerifySecret compares a plaintext secret against a stored SHA-256 hash in
// constant time.
func VerifySecret(secret, hash string) bool {
	sum := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(sum), []byte(hash)) == 1
}

// LookupAPIKey checks if the given key matches any configured API key
// and returns the key config if found.
func (c *Config) LookupAPIKey(key string) (*APIKeyConfig, bool) {
	hash := HashSecret(key)
	for i := range c.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(c.Auth.APIKeys[i].Hash), []byte(hash)) == 1 {
			return &c.Auth.APIKeys[i], true
		}
	}
	return nil, false
}

func NormalizeBasePath(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return ""
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return strings.TrimRight(s, "/")
}

func (c *Config) IsTrustedProxy(ip net.IP) bool {
	for i := range c.trustedNets {
		if c.trustedNets[i].Contains(ip) {
			return true
		}
	}
	return false
}

func (c *Config) TrustedNets() []net.IPNet {
	return c.trustedNets
}

// RemovePromptsDefault reports the default remove_prompts behavior for the
// command operation. Unset means enabled.
func (c *Config) RemovePromptsDefault() bool {
	if c.Exec.RemovePrompts == nil {
		return true
	}
	return *c.Exec.RemovePrompts
}

func parseTrustedProxies(proxies []string) ([]net.IPNet, error) {
	var nets []net.IPNet
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP: %s", p)
			}
			if ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR: %s", p)
		}
		nets = append(nets, *ipNet)
	}
	return nets, nil
}
