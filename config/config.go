package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Coordinate is a decimal degree value read verbatim from YAML.
type Coordinate struct {
	decimal.Decimal
}

// UnmarshalYAML parses the scalar without a float round trip.
func (c *Coordinate) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind != yaml.ScalarNode {
		return errors.New("coordinate must be a scalar")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("parse coordinate %q: %w", value.Value, err)
	}
	c.Decimal = d
	return nil
}

// MarshalYAML renders the coordinate as a number literal.
func (c Coordinate) MarshalYAML() (interface{}, error) {
	return c.InexactFloat64(), nil
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Package     string `json:"package,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LocationConfig is the reference location of ephemeris rules.
type LocationConfig struct {
	Name      string     `yaml:"name,omitempty"`
	Latitude  Coordinate `yaml:"latitude"`
	Longitude Coordinate `yaml:"longitude"`
	TimeZone  string     `yaml:"timezone,omitempty"`
}

// Configured reports whether coordinates were given.
func (l LocationConfig) Configured() bool {
	return !l.Latitude.IsZero() || !l.Longitude.IsZero() || l.Name != ""
}

// Zone loads the configured time zone, UTC when empty.
func (l LocationConfig) Zone() (*time.Location, error) {
	if strings.TrimSpace(l.TimeZone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(l.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", l.TimeZone, err)
	}
	return loc, nil
}

// MQTTConfig configures the broker rule triggers are published to.
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
	PublishTimeout Duration `yaml:"publish_timeout,omitempty"`
	QoS            byte     `yaml:"qos,omitempty"`
	Retain         bool     `yaml:"retain,omitempty"`
	TopicPrefix    string   `yaml:"topic_prefix,omitempty"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}

// RuleConfig describes one scheduled rule.
type RuleConfig struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Expression  string          `yaml:"expression"`
	Condition   string          `yaml:"condition,omitempty"`
	Topic       string          `yaml:"topic,omitempty"`
	Payload     string          `yaml:"payload,omitempty"`
	Disable     bool            `yaml:"disable,omitempty"`
	Source      ModuleReference `yaml:"-"`
}

// Config is the root configuration structure for the daemon.
type Config struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Server      ServerConfig    `yaml:"server"`
	Locale      string          `yaml:"locale,omitempty"`
	Location    LocationConfig  `yaml:"location"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	Rules       []RuleConfig    `yaml:"rules"`
	Modules     []ModuleInclude `yaml:"modules"`
	HotReload   bool            `yaml:"hot_reload,omitempty"`
	Source      ModuleReference `yaml:"-"`
}

// Load reads, validates and decodes the configuration file or directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	var cfg *Config
	if info.IsDir() {
		cfg, err = loadDir(abs, visited, "")
	} else {
		cfg, err = loadFile(abs, visited, "")
	}
	if err != nil {
		return nil, err
	}
	if err := validateRules(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListenAddress returns the configured API address or the default.
func (c *Config) ListenAddress() string {
	if c == nil || strings.TrimSpace(c.Server.Listen) == "" {
		return "127.0.0.1:8080"
	}
	return c.Server.Listen
}

func loadFile(path string, visited map[string]struct{}, parentPackage string) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Validate(path, raw); err != nil {
		return nil, err
	}

	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", path)
	}

	pkgName, err := extractPackageName(root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	packagePath := parentPackage
	if pkgName != "" {
		if err := ensureIdentifier(pkgName, "package"); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		packagePath = joinPackage(parentPackage, pkgName)
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description, Package: packagePath})

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}
		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited, packagePath)
		} else {
			child, err = loadFile(modulePath, visited, packagePath)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if child == nil {
			continue
		}
		child.applyModuleMetadata(ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		})
		mergeConfig(&cfg, child)
	}
	return &cfg, nil
}

func loadDir(path string, visited map[string]struct{}, parentPackage string) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path, Package: parentPackage})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := loadFile(filepath.Join(path, entry.Name()), visited, parentPackage)
		if err != nil {
			return nil, err
		}
		mergeConfig(result, cfg)
	}
	return result, nil
}

func extractPackageName(root *yaml.Node) (string, error) {
	if root == nil {
		return "", nil
	}
	var pkg string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if key == nil || key.Kind != yaml.ScalarNode || strings.TrimSpace(key.Value) != "package" {
			continue
		}
		value := root.Content[i+1]
		if value == nil {
			continue
		}
		if err := value.Decode(&pkg); err != nil {
			return "", fmt.Errorf("invalid package declaration: %w", err)
		}
	}
	return strings.TrimSpace(pkg), nil
}

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	if strings.Contains(trimmed, ".") {
		return fmt.Errorf("%s %q must not contain '.'", kind, trimmed)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return fmt.Errorf("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}

func joinPackage(parent, name string) string {
	if parent == "" {
		return name
	}
	if parent == name || strings.HasSuffix(parent, "."+name) {
		return parent
	}
	return parent + "." + name
}

func validateRules(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	seen := make(map[string]ModuleReference, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if err := ensureIdentifier(rule.ID, "rule"); err != nil {
			return err
		}
		if strings.TrimSpace(rule.Expression) == "" {
			return fmt.Errorf("rule %q: expression is required", rule.ID)
		}
		if prev, ok := seen[rule.ID]; ok {
			return fmt.Errorf("rule %q defined twice (%s and %s)", rule.ID, prev.File, rule.Source.File)
		}
		seen[rule.ID] = rule.Source
	}
	return nil
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.Server.Listen != "" {
		dst.Server = src.Server
	}
	if src.Locale != "" {
		dst.Locale = src.Locale
	}
	if src.Location.Configured() {
		dst.Location = src.Location
	}
	if src.MQTT.Enabled() {
		dst.MQTT = src.MQTT
	}
	if src.HotReload {
		dst.HotReload = true
	}
	dst.Rules = append(dst.Rules, src.Rules...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.Rules {
		c.Rules[i].Source = mergeInitialSource(c.Rules[i].Source, meta)
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Rules {
		c.Rules[i].Source = mergeModuleOverride(c.Rules[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" {
		child.File = meta.File
	}
	if child.Name == "" {
		child.Name = meta.Name
	}
	if child.Description == "" {
		child.Description = meta.Description
	}
	if child.Package == "" {
		child.Package = meta.Package
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.File != "" {
		base.File = override.File
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.Package != "" {
		base.Package = override.Package
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
