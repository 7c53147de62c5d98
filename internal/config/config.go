package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"arbor/internal/growth"
)

// Duration is a config-friendly wrapper around time.Duration that accepts
// human readable strings such as "16ms" from JSON, YAML and TOML files while
// still allowing numeric nanosecond values.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalText encodes the duration using the canonical string representation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText decodes a duration string. Empty strings decode to zero.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Null values decode to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config captures everything needed to run a growth session and serve it.
type Config struct {
	Tree    TreeConfig    `json:"tree" yaml:"tree" toml:"tree"`
	Crown   CrownConfig   `json:"crown" yaml:"crown" toml:"crown"`
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Preview PreviewConfig `json:"preview" yaml:"preview" toml:"preview"`
	Export  ExportConfig  `json:"export" yaml:"export" toml:"export"`
}

type Vec3 struct {
	X float32 `json:"x" yaml:"x" toml:"x"`
	Y float32 `json:"y" yaml:"y" toml:"y"`
	Z float32 `json:"z" yaml:"z" toml:"z"`
}

type TreeConfig struct {
	Root               Vec3    `json:"root" yaml:"root" toml:"root"`
	LeafCount          int     `json:"leafCount" yaml:"leaf_count" toml:"leaf_count"`
	TreeWidth          float32 `json:"treeWidth" yaml:"tree_width" toml:"tree_width"`
	TreeHeight         float32 `json:"treeHeight" yaml:"tree_height" toml:"tree_height"`
	TrunkHeight        float32 `json:"trunkHeight" yaml:"trunk_height" toml:"trunk_height"`
	MinDistance        float32 `json:"minDistance" yaml:"min_distance" toml:"min_distance"`
	MaxDistance        float32 `json:"maxDistance" yaml:"max_distance" toml:"max_distance"`
	BranchLength       float32 `json:"branchLength" yaml:"branch_length" toml:"branch_length"`
	RepeatNum          int     `json:"repeatNum" yaml:"repeat_num" toml:"repeat_num"`
	DedupEpsilon       float32 `json:"dedupEpsilon" yaml:"dedup_epsilon" toml:"dedup_epsilon"`
	SymmetricExtension bool    `json:"symmetricExtension" yaml:"symmetric_extension" toml:"symmetric_extension"`
}

type CrownConfig struct {
	Seed     int64   `json:"seed" yaml:"seed" toml:"seed"`               // 0 uses the global random source
	MeshPath string  `json:"meshPath" yaml:"mesh_path" toml:"mesh_path"` // OBJ file biasing leaf placement
	Scale    float32 `json:"scale" yaml:"scale" toml:"scale"`            // divides mesh coordinates
	Offset   float32 `json:"offset" yaml:"offset" toml:"offset"`         // subtracted from mesh Y
}

type ServerConfig struct {
	ListenAddress string   `json:"listenAddress" yaml:"listen_address" toml:"listen_address"`
	TickRate      Duration `json:"tickRate" yaml:"tick_rate" toml:"tick_rate"` // one growth step per tick
	WatchConfig   bool     `json:"watchConfig" yaml:"watch_config" toml:"watch_config"`
	ClientBuffer  int      `json:"clientBuffer" yaml:"client_buffer" toml:"client_buffer"` // queued frames per websocket client
}

type PreviewConfig struct {
	Width       int    `json:"width" yaml:"width" toml:"width"`
	Height      int    `json:"height" yaml:"height" toml:"height"`
	Background  string `json:"background" yaml:"background" toml:"background"`      // hex colour, e.g. "#0a0a12"
	BranchColor string `json:"branchColor" yaml:"branch_color" toml:"branch_color"` // empty uses the built-in colour
	LeafColor   string `json:"leafColor" yaml:"leaf_color" toml:"leaf_color"`
}

type ExportConfig struct {
	MaxSteps int `json:"maxSteps" yaml:"max_steps" toml:"max_steps"` // 0 runs until the tree is done
}

// Params maps the tree and crown sections onto engine parameters.
func (c *Config) Params() growth.Params {
	return growth.Params{
		LeafCount:          c.Tree.LeafCount,
		TreeWidth:          c.Tree.TreeWidth,
		TreeHeight:         c.Tree.TreeHeight,
		TrunkHeight:        c.Tree.TrunkHeight,
		MinDistance:        c.Tree.MinDistance,
		MaxDistance:        c.Tree.MaxDistance,
		BranchLength:       c.Tree.BranchLength,
		RepeatNum:          c.Tree.RepeatNum,
		MeshProvided:       c.Crown.MeshPath != "",
		Scale:              c.Crown.Scale,
		Offset:             c.Crown.Offset,
		DedupEpsilon:       c.Tree.DedupEpsilon,
		SymmetricExtension: c.Tree.SymmetricExtension,
	}
}

// Load reads configuration from a JSON, YAML or TOML file, picked by
// extension. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".json", "":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func encode(path string, cfg *Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		return toml.Marshal(cfg)
	case ".json", "":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func Default() *Config {
	p := growth.DefaultParams()
	return &Config{
		Tree: TreeConfig{
			Root:         Vec3{},
			LeafCount:    p.LeafCount,
			TreeWidth:    p.TreeWidth,
			TreeHeight:   p.TreeHeight,
			TrunkHeight:  p.TrunkHeight,
			MinDistance:  p.MinDistance,
			MaxDistance:  p.MaxDistance,
			BranchLength: p.BranchLength,
			RepeatNum:    p.RepeatNum,
			DedupEpsilon: p.DedupEpsilon,
		},
		Crown: CrownConfig{
			Seed:   1337,
			Scale:  p.Scale,
			Offset: p.Offset,
		},
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:28090",
			TickRate:      Duration(16 * time.Millisecond),
			WatchConfig:   true,
			ClientBuffer:  8,
		},
		Preview: PreviewConfig{
			Width:       512,
			Height:      768,
			Background:  "#0a0a12",
			BranchColor: "#c4a478",
			LeafColor:   "#60c86e",
		},
		Export: ExportConfig{
			MaxSteps: 0,
		},
	}
}

func (c *Config) Validate() error {
	if c.Tree.BranchLength <= 0 {
		return errors.New("tree.branchLength must be positive")
	}
	if c.Tree.MinDistance < 0 || c.Tree.MaxDistance < 0 {
		return errors.New("tree distances cannot be negative")
	}
	if c.Tree.MinDistance > c.Tree.MaxDistance {
		return errors.New("tree.minDistance must be <= maxDistance")
	}
	if c.Tree.LeafCount < 0 {
		return errors.New("tree.leafCount cannot be negative")
	}
	if c.Tree.TreeWidth <= 0 || c.Tree.TreeHeight <= 0 {
		return errors.New("tree crown dimensions must be positive")
	}
	if c.Crown.MeshPath != "" && c.Crown.Scale == 0 {
		return errors.New("crown.scale must be non-zero when crown.meshPath is set")
	}
	if c.Server.ListenAddress == "" {
		return errors.New("server.listenAddress must be set")
	}
	if c.Server.TickRate <= 0 {
		return errors.New("server.tickRate must be positive")
	}
	if c.Server.ClientBuffer <= 0 {
		return errors.New("server.clientBuffer must be positive")
	}
	if c.Preview.Width <= 0 || c.Preview.Height <= 0 {
		return errors.New("preview dimensions must be positive")
	}
	if c.Export.MaxSteps < 0 {
		return errors.New("export.maxSteps cannot be negative")
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	return nil
}
