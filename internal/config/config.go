package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dante-gpu/dante-sweep/internal/grid"
	"github.com/dante-gpu/dante-sweep/internal/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Policy values.
const (
	PolicyFatal = "fatal" // abort the run with a non-zero exit
	PolicyEmpty = "empty" // discovery failure degrades to an empty resource list
	PolicySkip  = "skip"  // no resources: log and exit cleanly

	LaunchPerResource    = "per_resource"    // one session per resource, commands chained
	LaunchPerCombination = "per_combination" // one session per combination

	BackendScreen = "screen"
	BackendTmux   = "tmux"
	BackendDocker = "docker"
)

// ResourceSettings controls device discovery.
type ResourceSettings struct {
	NvidiaSmiPath string `yaml:"nvidia_smi_path"`
	// A device is idle when its utilization is at or below this percentage.
	IdleUtilization  uint32        `yaml:"idle_utilization"`
	AllowedIDs       []int         `yaml:"allowed_ids,omitempty"` // Empty means every discovered device
	Remap            map[int]int   `yaml:"remap,omitempty"`       // Discovered id -> effective id
	MaxResources     int           `yaml:"max_resources"`         // 0 means no cap
	OnDiscoveryError string        `yaml:"on_discovery_error"`    // "fatal" or "empty"
	QueryTimeout     time.Duration `yaml:"query_timeout"`
}

// DispatchSettings controls how partitions become sessions.
type DispatchSettings struct {
	LaunchPolicy  string `yaml:"launch_policy"`   // "per_resource" or "per_combination"
	OnNoResources string `yaml:"on_no_resources"` // "fatal" or "skip"
	SessionPrefix string `yaml:"session_prefix"`
	DeviceEnvVar  string `yaml:"device_env_var"`
	// KeepAlive leaves an interactive shell running after the commands finish.
	KeepAlive bool `yaml:"keep_alive"`
}

// DockerSettings holds settings for the docker session backend.
type DockerSettings struct {
	Endpoint   string   `yaml:"endpoint,omitempty"` // Empty uses DOCKER_HOST / the default socket
	Image      string   `yaml:"image"`
	WorkDir    string   `yaml:"work_dir"` // Mount point of the snapshot inside the container
	GPUDriver  string   `yaml:"gpu_driver"`
	ExtraBinds []string `yaml:"extra_binds,omitempty"`
}

// SessionSettings selects and configures the session backend.
type SessionSettings struct {
	Backend    string         `yaml:"backend"` // "screen", "tmux" or "docker"
	ScreenPath string         `yaml:"screen_path"`
	TmuxPath   string         `yaml:"tmux_path"`
	Shell      string         `yaml:"shell"`
	Docker     DockerSettings `yaml:"docker"`
}

// SnapshotSettings controls the source snapshot staged before launching.
type SnapshotSettings struct {
	Enabled    bool     `yaml:"enabled"`
	SourceRoot string   `yaml:"source_root"`
	DestRoot   string   `yaml:"dest_root"`
	Include    []string `yaml:"include"`
	Exclude    []string `yaml:"exclude"`
}

// NatsConfig holds settings for the optional dispatch event publisher.
type NatsConfig struct {
	URL            string        `yaml:"url"` // Empty disables publishing
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
}

// Config holds the launcher configuration. It is loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`

	// GridFile, when set, points to an HCL grid file that replaces Grid.
	GridFile string    `yaml:"grid_file,omitempty"`
	Grid     grid.Spec `yaml:"grid"`

	Resources ResourceSettings `yaml:"resources"`
	Dispatch  DispatchSettings `yaml:"dispatch"`
	Session   SessionSettings  `yaml:"session"`
	Snapshot  SnapshotSettings `yaml:"snapshot"`
	Nats      NatsConfig       `yaml:"nats"`

	Logger *zap.Logger `yaml:"-"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   filepath.Join("logs", "sweep"),
		Grid: grid.Spec{
			Program: []string{"python", "training.py"},
			Params: grid.Params{
				grid.Scalar("exp_name", grid.Str("crl")),
				grid.Scalar("project_name", grid.Str("manipulation_new")),
				grid.Scalar("group_name", grid.Str("first_run")),
				grid.List("env", grid.Str("arm_reach"), grid.Str("arm_grasp"), grid.Str("arm_push_easy")),
				grid.List("n_hidden", grid.Int(2), grid.Int(3), grid.Int(4)),
				grid.Scalar("h_dim", grid.Int(1024)),
				grid.List("seed", grid.Int(2), grid.Int(3), grid.Int(4)),
				grid.List("batch_size", grid.Int(256)),
				grid.List("num_envs", grid.Int(256)),
				grid.Scalar("num_evals", grid.Int(10)),
				grid.Scalar("num_timesteps", grid.Int(100000000)),
				grid.Scalar("episode_length", grid.Int(250)),
				grid.Scalar("contrastive_loss_fn", grid.Str("symmetric_infonce")),
				grid.Scalar("discounting", grid.Float(0.99)),
				grid.Scalar("repr_dim", grid.Int(64)),
				grid.Scalar("energy_fn", grid.Str("l2")),
				grid.Scalar("logsumexp_penalty", grid.Float(0.1)),
				grid.Scalar("l2_penalty", grid.Float(0.000001)),
				grid.Scalar("use_ln", grid.Bool(true)),
				grid.Scalar("log_wandb", grid.Bool(true)),
			},
		},
		Resources: ResourceSettings{
			NvidiaSmiPath:    "nvidia-smi",
			IdleUtilization:  0,
			OnDiscoveryError: PolicyFatal,
			QueryTimeout:     10 * time.Second,
		},
		Dispatch: DispatchSettings{
			LaunchPolicy:  LaunchPerResource,
			OnNoResources: PolicyFatal,
			SessionPrefix: "gpu_session_",
			DeviceEnvVar:  "CUDA_VISIBLE_DEVICES",
			KeepAlive:     true,
		},
		Session: SessionSettings{
			Backend:    BackendScreen,
			ScreenPath: "screen",
			TmuxPath:   "tmux",
			Shell:      "bash",
			Docker: DockerSettings{
				Image:     "pytorch/pytorch:latest",
				WorkDir:   "/workspace",
				GPUDriver: "nvidia",
			},
		},
		Snapshot: SnapshotSettings{
			Enabled:    false,
			SourceRoot: ".",
			DestRoot:   filepath.Join(os.TempDir(), "sweep_snapshots"),
			Include:    []string{"*.py", "*.sh", "*.yaml", "*.yml", "*.json", "*.txt", "*.toml", "*.cfg"},
			Exclude:    []string{".git/", "__pycache__/", "logs/", "wandb/", "*"},
		},
		Nats: NatsConfig{
			ConnectTimeout: 5 * time.Second,
			SubjectPrefix:  "sweep.dispatch",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path.
// It creates a default config file if it doesn't exist.
func LoadConfig(path string, logger *zap.Logger) (*Config, error) {
	defaultConfig := Default()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		data, marshalErr := yaml.Marshal(defaultConfig)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", marshalErr)
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", mkdirErr)
		}
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", writeErr)
		}
		logger.Info("Default configuration file created", zap.String("path", path))
		defaultConfig.Logger = logger
		return defaultConfig, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, defaultConfig)
	if err != nil {
		return nil, err
	}

	if cfg.GridFile != "" {
		gridPath := cfg.GridFile
		if !filepath.IsAbs(gridPath) {
			gridPath = filepath.Join(filepath.Dir(path), gridPath)
		}
		spec, err := grid.LoadHCLFile(gridPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load grid file: %w", err)
		}
		cfg.Grid = *spec
		logger.Debug("Grid spec loaded from HCL file", zap.String("path", gridPath))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Logger = logger
	return cfg, nil
}

// Parse decodes YAML configuration and fills zero-valued fields from defaults.
func Parse(data []byte, defaults *Config) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	applyDefaultsIfNotSet(&cfg, defaults)

	// A false bool is indistinguishable from an absent key, so defaulted
	// bools are resolved against the raw document.
	var present struct {
		Dispatch struct {
			KeepAlive *bool `yaml:"keep_alive"`
		} `yaml:"dispatch"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	if present.Dispatch.KeepAlive == nil {
		cfg.Dispatch.KeepAlive = defaults.Dispatch.KeepAlive
	}
	return &cfg, nil
}

// applyDefaultsIfNotSet applies default values to cfg fields if they are zero-valued.
// The grid itself is never defaulted: an empty grid is a configuration error.
func applyDefaultsIfNotSet(cfg *Config, defaults *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults.LogDir
	}

	// Resources
	if cfg.Resources.NvidiaSmiPath == "" {
		cfg.Resources.NvidiaSmiPath = defaults.Resources.NvidiaSmiPath
	}
	if cfg.Resources.OnDiscoveryError == "" {
		cfg.Resources.OnDiscoveryError = defaults.Resources.OnDiscoveryError
	}
	if cfg.Resources.QueryTimeout == 0 {
		cfg.Resources.QueryTimeout = defaults.Resources.QueryTimeout
	}

	// Dispatch
	if cfg.Dispatch.LaunchPolicy == "" {
		cfg.Dispatch.LaunchPolicy = defaults.Dispatch.LaunchPolicy
	}
	if cfg.Dispatch.OnNoResources == "" {
		cfg.Dispatch.OnNoResources = defaults.Dispatch.OnNoResources
	}
	if cfg.Dispatch.SessionPrefix == "" {
		cfg.Dispatch.SessionPrefix = defaults.Dispatch.SessionPrefix
	}
	if cfg.Dispatch.DeviceEnvVar == "" {
		cfg.Dispatch.DeviceEnvVar = defaults.Dispatch.DeviceEnvVar
	}

	// Session
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = defaults.Session.Backend
	}
	if cfg.Session.ScreenPath == "" {
		cfg.Session.ScreenPath = defaults.Session.ScreenPath
	}
	if cfg.Session.TmuxPath == "" {
		cfg.Session.TmuxPath = defaults.Session.TmuxPath
	}
	if cfg.Session.Shell == "" {
		cfg.Session.Shell = defaults.Session.Shell
	}
	if cfg.Session.Docker.Image == "" {
		cfg.Session.Docker.Image = defaults.Session.Docker.Image
	}
	if cfg.Session.Docker.WorkDir == "" {
		cfg.Session.Docker.WorkDir = defaults.Session.Docker.WorkDir
	}
	if cfg.Session.Docker.GPUDriver == "" {
		cfg.Session.Docker.GPUDriver = defaults.Session.Docker.GPUDriver
	}

	// Snapshot. Include/Exclude are only defaulted when absent (nil), an
	// explicit empty list is respected.
	if cfg.Snapshot.SourceRoot == "" {
		cfg.Snapshot.SourceRoot = defaults.Snapshot.SourceRoot
	}
	if cfg.Snapshot.DestRoot == "" {
		cfg.Snapshot.DestRoot = defaults.Snapshot.DestRoot
	}
	if cfg.Snapshot.Include == nil {
		cfg.Snapshot.Include = defaults.Snapshot.Include
	}
	if cfg.Snapshot.Exclude == nil {
		cfg.Snapshot.Exclude = defaults.Snapshot.Exclude
	}

	// NATS
	if cfg.Nats.ConnectTimeout == 0 {
		cfg.Nats.ConnectTimeout = defaults.Nats.ConnectTimeout
	}
	if cfg.Nats.SubjectPrefix == "" {
		cfg.Nats.SubjectPrefix = defaults.Nats.SubjectPrefix
	}
}

// Validate reports configuration errors before anything is discovered or launched.
func (c *Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("%w: invalid log_level %q", models.ErrInvalidSpec, c.LogLevel)
	}

	switch c.Resources.OnDiscoveryError {
	case PolicyFatal, PolicyEmpty:
	default:
		return fmt.Errorf("%w: resources.on_discovery_error must be %q or %q, got %q", models.ErrInvalidSpec, PolicyFatal, PolicyEmpty, c.Resources.OnDiscoveryError)
	}
	if c.Resources.MaxResources < 0 {
		return fmt.Errorf("%w: resources.max_resources must not be negative", models.ErrInvalidSpec)
	}
	targets := make(map[int]int, len(c.Resources.Remap))
	for from, to := range c.Resources.Remap {
		if from < 0 || to < 0 {
			return fmt.Errorf("%w: resources.remap entries must be non-negative (%d -> %d)", models.ErrInvalidSpec, from, to)
		}
		if other, dup := targets[to]; dup {
			return fmt.Errorf("%w: resources.remap maps both %d and %d to %d", models.ErrInvalidSpec, other, from, to)
		}
		targets[to] = from
	}

	switch c.Dispatch.LaunchPolicy {
	case LaunchPerResource, LaunchPerCombination:
	default:
		return fmt.Errorf("%w: dispatch.launch_policy must be %q or %q, got %q", models.ErrInvalidSpec, LaunchPerResource, LaunchPerCombination, c.Dispatch.LaunchPolicy)
	}
	switch c.Dispatch.OnNoResources {
	case PolicyFatal, PolicySkip:
	default:
		return fmt.Errorf("%w: dispatch.on_no_resources must be %q or %q, got %q", models.ErrInvalidSpec, PolicyFatal, PolicySkip, c.Dispatch.OnNoResources)
	}
	if strings.ContainsAny(c.Dispatch.SessionPrefix, " \t\n:.") {
		return fmt.Errorf("%w: dispatch.session_prefix %q contains characters session names cannot hold", models.ErrInvalidSpec, c.Dispatch.SessionPrefix)
	}

	switch c.Session.Backend {
	case BackendScreen, BackendTmux, BackendDocker:
	default:
		return fmt.Errorf("%w: session.backend must be one of screen, tmux, docker, got %q", models.ErrInvalidSpec, c.Session.Backend)
	}

	if c.Snapshot.Enabled && c.Snapshot.SourceRoot == c.Snapshot.DestRoot {
		return fmt.Errorf("%w: snapshot.dest_root must differ from snapshot.source_root", models.ErrInvalidSpec)
	}
	return nil
}
