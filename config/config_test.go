package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `package: home
name: Home
logging:
  level: debug
  format: text
telemetry:
  enabled: true
server:
  listen: ":9090"
locale: de
location:
  name: Berlin
  latitude: 52.520008
  longitude: 13.404954
  timezone: Europe/Berlin
mqtt:
  broker: tcp://localhost:1883
  client_id: cronrule
  connect_timeout: 10s
  publish_timeout: 3s
  qos: 1
rules:
  - id: porch_light
    expression: "@sunset"
    topic: home/porch/light
    payload: "on"
  - id: weekday_alarm
    expression: "0 6 ? * 1-5"
    condition: weekday && !holiday
hot_reload: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, ":9090", cfg.ListenAddress())
	require.Equal(t, "de", cfg.Locale)
	require.Equal(t, "52.520008", cfg.Location.Latitude.String())
	require.Equal(t, "13.404954", cfg.Location.Longitude.String())
	require.Equal(t, 10*time.Second, cfg.MQTT.ConnectTimeout.Duration)
	require.Equal(t, 3*time.Second, cfg.MQTT.PublishTimeout.Duration)
	require.Equal(t, byte(1), cfg.MQTT.QoS)
	require.True(t, cfg.HotReload)

	require.Len(t, cfg.Rules, 2)
	require.Equal(t, "porch_light", cfg.Rules[0].ID)
	require.Equal(t, "weekday && !holiday", cfg.Rules[1].Condition)
	require.Equal(t, path, cfg.Rules[0].Source.File)
	require.Equal(t, "home", cfg.Rules[0].Source.Package)

	zone, err := cfg.Location.Zone()
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", zone.String())
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.yaml")
	modulePath := filepath.Join(dir, "garden.yaml")

	writeFile(t, modulePath, `package: garden
name: Garden
rules:
  - id: sprinkler
    expression: "0 5 * * *"
`)
	writeFile(t, mainPath, `package: home
modules:
  - path: garden.yaml
    description: Irrigation
rules:
  - id: base
    expression: "@hourly"
`)

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	require.Len(t, cfg.Rules, 2)

	sprinkler := cfg.Rules[1]
	require.Equal(t, "sprinkler", sprinkler.ID)
	require.Equal(t, modulePath, sprinkler.Source.File)
	require.Equal(t, "Garden", sprinkler.Source.Name)
	require.Equal(t, "Irrigation", sprinkler.Source.Description)
	require.Equal(t, "home.garden", sprinkler.Source.Package)

	require.Equal(t, []string{mainPath, modulePath}, SourceFiles(cfg))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "00-base.yaml"), `logging:
  level: warn
`)
	writeFile(t, filepath.Join(dir, "10-rules.yml"), `rules:
  - id: nightly
    expression: "@midnight"
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Len(t, cfg.Rules, 1)
	require.Equal(t, filepath.Join(dir, "10-rules.yml"), cfg.Rules[0].Source.File)
	require.Equal(t, "127.0.0.1:8080", cfg.ListenAddress())
}

func TestLoadDetectsCycles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "modules:\n  - b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "modules:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.ErrorContains(t, err, "cycle")
}

func TestLoadRejectsDuplicateRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), `rules:
  - id: dup
    expression: "@daily"
`)
	writeFile(t, filepath.Join(dir, "b.yaml"), `rules:
  - id: dup
    expression: "@hourly"
`)
	_, err := Load(dir)
	require.ErrorContains(t, err, `rule "dup" defined twice`)
}

func TestSchemaRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "colour: blue\n",
		"unknown rule key":   "rules:\n  - id: a\n    expression: '@daily'\n    when: never\n",
		"missing expression": "rules:\n  - id: a\n",
		"bad rule id":        "rules:\n  - id: 1st\n    expression: '@daily'\n",
		"latitude":           "location:\n  latitude: 91\n  longitude: 0\n",
		"qos":                "mqtt:\n  broker: tcp://x\n  qos: 3\n",
		"log format":         "logging:\n  format: xml\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, Validate("test.yaml", []byte(doc)))
		})
	}
	require.NoError(t, Validate("ok.yaml", []byte("rules:\n  - id: a\n    expression: '0 12 * * 1'\n")))
}

func TestModuleIncludeForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "modules:\n  - {name: x}\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	writeFile(t, path, "")
	_, err = Load(path)
	require.Error(t, err)
}

func TestLocationZoneErrors(t *testing.T) {
	zone, err := LocationConfig{}.Zone()
	require.NoError(t, err)
	require.Equal(t, time.UTC, zone)

	_, err = LocationConfig{TimeZone: "Mars/Olympus"}.Zone()
	require.Error(t, err)
}
