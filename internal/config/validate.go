package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/klyr/edgerewrite/internal/selector"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		}
		if c.Server.TLS.CertFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
				v.Add("server.tls.certFile invalid: %v", err)
			}
		}
		if c.Server.TLS.KeyFile != "" {
			if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
				v.Add("server.tls.keyFile invalid: %v", err)
			}
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if err := validateSite(c.Site); err != nil {
		v.Add("site invalid: %v", err)
	}

	if c.Routing.HostHeader == "" {
		v.Add("routing.hostHeader is required")
	}
	if !strings.HasPrefix(c.Routing.RobotsPath, "/") {
		v.Add("routing.robotsPath must start with /")
	}
	switch c.Routing.AcceptMatch {
	case AcceptSubstring, AcceptMediaType:
	default:
		v.Add("routing.acceptMatch must be substring|mediaType")
	}

	switch c.Origin.Scheme {
	case "http", "https":
	default:
		v.Add("origin.scheme must be http|https")
	}
	if c.Origin.Timeout <= 0 {
		v.Add("origin.timeout must be > 0")
	}

	if c.Rewrite.MaxTokenBytes <= 0 {
		v.Add("rewrite.maxTokenBytes must be > 0")
	}
	if m := c.Rewrite.Marker(); m != "" && !isAttrName(m) {
		v.Add("rewrite.markerAttribute %q is not a valid attribute name", m)
	}
	if f := c.Rewrite.Fence(); f != "" && (strings.Contains(f, "--") || strings.ContainsAny(f, "<>")) {
		v.Add("rewrite.fenceComment %q cannot appear inside a comment", f)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		v.Add("logging.level must be trace|debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		v.Add("logging.format must be text|json")
	}
	for field, path := range map[string]string{"logging.file": c.Logging.File, "logging.accessLog": c.Logging.AccessLog} {
		if path == "" || path == "-" {
			continue
		}
		if err := ensureWritable(c.resolvePath(path)); err != nil {
			v.Add("%s invalid: %v", field, err)
		}
	}

	ruleIDs := map[string]struct{}{}
	for i, rule := range c.Rules {
		if rule.ID == "" {
			v.Add("rules[%d].id is required", i)
		} else if strings.ContainsAny(rule.ID, " \t\n") {
			v.Add("rules[%d].id %q must not contain whitespace", i, rule.ID)
		} else if _, exists := ruleIDs[rule.ID]; exists {
			v.Add("rules[%d].id %q is duplicated", i, rule.ID)
		} else {
			ruleIDs[rule.ID] = struct{}{}
		}

		if rule.Selector == "" {
			v.Add("rules[%d].selector is required", i)
		} else if _, err := selector.Compile(rule.Selector); err != nil {
			v.Add("rules[%d].selector invalid: %v", i, err)
		}

		c.validateAction(v, i, rule)
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateAction(v *ValidationError, i int, rule Rule) {
	switch rule.Action {
	case ActionRemove:
	case ActionReplace:
		c.validateContent(v, i, rule)
	case ActionSetAttribute, ActionRemoveAttribute:
		if rule.Attribute == "" {
			v.Add("rules[%d].attribute is required for %s", i, rule.Action)
		}
	case ActionRewriteAttribute:
		if rule.Attribute == "" {
			v.Add("rules[%d].attribute is required for %s", i, rule.Action)
		}
		switch {
		case rule.Pattern != "" && rule.Old != "":
			v.Add("rules[%d] sets both old and pattern", i)
		case rule.Pattern != "":
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				v.Add("rules[%d].pattern invalid: %v", i, err)
			}
		case rule.Old == "":
			v.Add("rules[%d] needs old or pattern for %s", i, rule.Action)
		}
	case ActionInsert:
		switch rule.Position {
		case PositionBefore, PositionAfter, PositionPrepend, PositionAppend:
		default:
			v.Add("rules[%d].position must be before|after|prepend|append", i)
		}
		c.validateContent(v, i, rule)
	case ActionWrap:
		if rule.Prefix == "" && rule.Suffix == "" {
			v.Add("rules[%d] needs prefix or suffix for wrap", i)
		}
	case "":
		v.Add("rules[%d].action is required", i)
	default:
		v.Add("rules[%d].action %q is unknown", i, rule.Action)
	}
}

func (c *Config) validateContent(v *ValidationError, i int, rule Rule) {
	switch {
	case rule.Content != "" && rule.ContentFile != "":
		v.Add("rules[%d] sets both content and contentFile", i)
	case rule.ContentFile != "":
		if err := requireFile(c.resolvePath(rule.ContentFile)); err != nil {
			v.Add("rules[%d].contentFile invalid: %v", i, err)
		}
	case rule.Content == "" && rule.Action == ActionInsert:
		v.Add("rules[%d].content or contentFile is required for insert", i)
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateSite(site string) error {
	if strings.TrimSpace(site) == "" {
		return errors.New("site is required")
	}
	if strings.Contains(site, "://") || strings.ContainsAny(site, "/?# ") {
		return errors.New("must be a bare host name")
	}
	return nil
}

func isAttrName(s string) bool {
	for _, c := range s {
		if c <= ' ' || strings.ContainsRune(`"'>/=`, c) {
			return false
		}
	}
	return s != ""
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "edgerewrite-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
