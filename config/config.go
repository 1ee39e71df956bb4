package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var ErrConfig = errors.New("configuration error")

// Prefix of the environment variables which override config file values.
const EnvPrefix = "RPMABENCH_"

// Config describes the remote peer and how benchmarks reach it. It is persisted as part of the bench state, so every
// field must round-trip through JSON.
type Config struct {
	ServerIP            string `mapstructure:"SERVER_IP" json:"SERVER_IP"`
	ServerEC2InstanceID string `mapstructure:"SERVER_EC2_INSTANCE_ID" json:"SERVER_EC2_INSTANCE_ID,omitempty"`

	SSHUser       string `mapstructure:"SSH_USER" json:"SSH_USER"`
	SSHPort       int    `mapstructure:"SSH_PORT" json:"SSH_PORT"`
	SSHKeyPath    string `mapstructure:"SSH_KEY_PATH" json:"SSH_KEY_PATH,omitempty"`
	SSHKnownHosts string `mapstructure:"SSH_KNOWN_HOSTS" json:"SSH_KNOWN_HOSTS,omitempty"`

	PlatformGeneration      string `mapstructure:"PLATFORM_GENERATION" json:"PLATFORM_GENERATION,omitempty"`
	RemoteSudoNoPasswd      bool   `mapstructure:"REMOTE_SUDO_NOPASSWD" json:"REMOTE_SUDO_NOPASSWD"`
	RemoteDirectWriteToPMem *bool  `mapstructure:"REMOTE_DIRECT_WRITE_TO_PMEM" json:"REMOTE_DIRECT_WRITE_TO_PMEM,omitempty"`
	RemoteRNICPCIeRootPort  string `mapstructure:"REMOTE_RNIC_PCIE_ROOT_PORT" json:"REMOTE_RNIC_PCIE_ROOT_PORT,omitempty"`
	RemoteDDIOCmd           string `mapstructure:"REMOTE_DDIO_CMD" json:"REMOTE_DDIO_CMD"`
	RemotePMemPath          string `mapstructure:"REMOTE_PMEM_PATH" json:"REMOTE_PMEM_PATH,omitempty"`
	RemoteIBDevice          string `mapstructure:"REMOTE_IB_DEVICE" json:"REMOTE_IB_DEVICE,omitempty"`

	DummyResults bool `mapstructure:"DUMMY_RESULTS" json:"DUMMY_RESULTS"`

	ClientConnectAttempts int           `mapstructure:"CLIENT_CONNECT_ATTEMPTS" json:"CLIENT_CONNECT_ATTEMPTS"`
	ClientConnectBackoff  time.Duration `mapstructure:"CLIENT_CONNECT_BACKOFF" json:"CLIENT_CONNECT_BACKOFF"`

	RemoteProfiler string `mapstructure:"REMOTE_PROFILER" json:"REMOTE_PROFILER"`
	ProfileDir     string `mapstructure:"PROFILE_DIR" json:"PROFILE_DIR,omitempty"`
	RemoteMonitor  bool   `mapstructure:"REMOTE_MONITOR" json:"REMOTE_MONITOR"`

	ResultsBucket     string `mapstructure:"RESULTS_BUCKET" json:"RESULTS_BUCKET,omitempty"`
	ResultsPrefix     string `mapstructure:"RESULTS_PREFIX" json:"RESULTS_PREFIX,omitempty"`
	UploadConcurrency int    `mapstructure:"UPLOAD_CONCURRENCY" json:"UPLOAD_CONCURRENCY"`

	// Derived by requirement evaluation. Only ever set on a private copy handed to the runners.
	DirectWriteToPMem *bool `mapstructure:"DIRECT_WRITE_TO_PMEM" json:"DIRECT_WRITE_TO_PMEM,omitempty"`
}

func Default() *Config {
	return &Config{
		SSHUser:               "root",
		SSHPort:               22,
		RemoteDDIOCmd:         "ddio.sh",
		ClientConnectAttempts: 10,
		ClientConnectBackoff:  time.Second,
		RemoteProfiler:        "none",
		UploadConcurrency:     8,
	}
}

// Decode fills a default config from an untyped mapping. Unknown keys are rejected so that typos do not silently
// change what gets measured.
func Decode(m map[string]any) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, err
	}
	err = decoder.Decode(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return cfg, nil
}

// Load reads a JSON or YAML config file, applies overrides from envFile (if any) and from the process environment,
// then decodes it.
func Load(path string, envFile string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseMapping(path, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrConfig, path, err)
	}

	if envFile != "" {
		err = godotenv.Load(envFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading %s: %w", ErrConfig, envFile, err)
		}
	}
	ApplyEnv(m, os.Environ())

	return Decode(m)
}

// ParseMapping parses buf as YAML when path has a YAML extension and as JSON otherwise.
func ParseMapping(path string, buf []byte) (map[string]any, error) {
	m := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err := yaml.Unmarshal(buf, &m)
		if err != nil {
			return nil, err
		}
	default:
		err := json.Unmarshal(buf, &m)
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ApplyEnv copies every RPMABENCH_<KEY>=value entry of environ into m under KEY.
func ApplyEnv(m map[string]any, environ []string) {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		m[strings.TrimPrefix(k, EnvPrefix)] = v
	}
}

// Clone returns a deep copy. Requirement evaluation works on a clone so derived values never leak into the
// persisted config.
func (c *Config) Clone() *Config {
	out := *c
	if c.RemoteDirectWriteToPMem != nil {
		v := *c.RemoteDirectWriteToPMem
		out.RemoteDirectWriteToPMem = &v
	}
	if c.DirectWriteToPMem != nil {
		v := *c.DirectWriteToPMem
		out.DirectWriteToPMem = &v
	}
	return &out
}

// Env exports the config as environment variables for script-backed runners.
func (c *Config) Env() map[string]string {
	env := map[string]string{}
	m := map[string]any{}
	err := mapstructure.Decode(c, &m)
	if err != nil {
		return env
	}
	for k, v := range m {
		switch v := v.(type) {
		case *bool:
			if v != nil {
				env[k] = fmt.Sprint(*v)
			}
		case time.Duration:
			env[k] = v.String()
		default:
			s := fmt.Sprint(v)
			if s != "" {
				env[k] = s
			}
		}
	}
	return env
}
