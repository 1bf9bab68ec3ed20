package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
configVersion: 1
site: www.example.com
origin:
  timeout: 5s
rules:
  - id: defer-scripts
    selector: "script[src*='script-to-be-deferred.js']"
    action: setAttribute
    attribute: defer
  - id: preconnect
    selector: head
    action: insert
    position: append
    html: true
    contentFile: hints.html
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "edgerewrite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "hints.html"), []byte(`<link rel="preconnect" href="https://cdn">`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, "x-host", cfg.Routing.HostHeader)
	assert.Equal(t, "x-bypass-transform", cfg.Routing.BypassHeader)
	assert.Equal(t, "true", cfg.Routing.BypassToken)
	assert.Equal(t, "/robots.txt", cfg.Routing.RobotsPath)
	assert.Equal(t, "User-agent: *\nDisallow: /", cfg.Routing.RobotsBody)
	assert.Equal(t, AcceptSubstring, cfg.Routing.AcceptMatch)
	assert.Equal(t, "https", cfg.Origin.Scheme)
	assert.Equal(t, 5*time.Second, cfg.Origin.Timeout)
	assert.Equal(t, "data-edge-rewrite", cfg.Rewrite.Marker())
	assert.Equal(t, "edge-rewrite", cfg.Rewrite.Fence())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "hints.html"), cfg.ResolvePath("hints.html"))
	require.Len(t, cfg.Rules, 2)
	assert.True(t, cfg.Rules[1].HTML)
}

func TestRewriteFeaturesCanBeDisabled(t *testing.T) {
	cfg, err := Parse([]byte("configVersion: 1\nsite: a.test\nrewrite:\n  markerAttribute: none\n  fenceComment: none\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Rewrite.Marker())
	assert.Empty(t, cfg.Rewrite.Fence())
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg, err := Parse([]byte(`
configVersion: 2
site: https://www.example.com/
routing:
  acceptMatch: exact
origin:
  scheme: ftp
rules:
  - id: a
    selector: "li:last-child"
    action: remove
  - id: a
    selector: div
    action: rewriteAttribute
    attribute: class
    pattern: "("
  - id: b
    selector: div
    action: insert
    position: inside
  - id: c
    selector: p
    action: explode
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	joined := strings.Join(verr.Problems, "\n")
	for _, want := range []string{
		"configVersion must be 1",
		"site invalid",
		"routing.acceptMatch must be substring|mediaType",
		"origin.scheme must be http|https",
		"rules[0].selector invalid",
		`rules[1].id "a" is duplicated`,
		"rules[1].pattern invalid",
		"rules[2].position must be before|after|prepend|append",
		"rules[2].content or contentFile is required for insert",
		`rules[3].action "explode" is unknown`,
	} {
		assert.Contains(t, joined, want)
	}
	assert.IsIncreasing(t, verr.Problems)
}

func TestValidateMissingContentFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	err = cfg.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "rules[1].contentFile invalid")
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("configVersion: 1\nsite: a.test\nrules:\n  - id: x\n    selector: div\n    action: remove\n    atribute: class\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atribute")

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
}
