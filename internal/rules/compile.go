package rules

import (
	"fmt"
	"os"

	"github.com/klyr/edgerewrite/internal/config"
	"github.com/klyr/edgerewrite/internal/htmlstream"
	"github.com/klyr/edgerewrite/internal/selector"
)

// Build compiles every configured rule, keeping configuration order.
func Build(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	reg := &Registry{
		bindings: make([]htmlstream.Binding, 0, len(cfg.Rules)),
		entries:  make([]Entry, 0, len(cfg.Rules)),
	}
	seen := map[string]struct{}{}
	for _, raw := range cfg.Rules {
		if raw.ID == "" {
			return nil, fmt.Errorf("rule with selector %q has no id", raw.Selector)
		}
		if _, dup := seen[raw.ID]; dup {
			return nil, fmt.Errorf("rule %s: duplicated id", raw.ID)
		}
		seen[raw.ID] = struct{}{}

		sel, err := selector.Compile(raw.Selector)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", raw.ID, err)
		}
		rule, summary, err := compileRule(raw, cfg)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", raw.ID, err)
		}

		reg.bindings = append(reg.bindings, htmlstream.Binding{Matcher: sel, Rule: rule})
		reg.entries = append(reg.entries, Entry{
			ID:       raw.ID,
			Selector: sel.String(),
			Action:   raw.Action,
			Summary:  summary,
		})
	}

	return reg, nil
}

func compileRule(raw config.Rule, cfg *config.Config) (htmlstream.Rule, string, error) {
	switch raw.Action {
	case config.ActionRemove:
		return NewRemove(raw.ID), "", nil

	case config.ActionReplace:
		content, err := loadContent(raw, cfg)
		if err != nil {
			return nil, "", err
		}
		return NewReplace(raw.ID, content, raw.HTML), snippet(content), nil

	case config.ActionSetAttribute:
		if raw.Attribute == "" {
			return nil, "", fmt.Errorf("attribute is required")
		}
		return NewSetAttribute(raw.ID, raw.Attribute, raw.Value),
			fmt.Sprintf("%s=%q", raw.Attribute, raw.Value), nil

	case config.ActionRewriteAttribute:
		if raw.Attribute == "" {
			return nil, "", fmt.Errorf("attribute is required")
		}
		var t Transform
		switch {
		case raw.Pattern != "":
			rt, err := NewRegexTransform(raw.Pattern, raw.New)
			if err != nil {
				return nil, "", fmt.Errorf("pattern: %w", err)
			}
			t = rt
		case raw.Old != "":
			t = NewLiteralTransform(raw.Old, raw.New)
		default:
			return nil, "", fmt.Errorf("old or pattern is required")
		}
		return NewAttributeRewrite(raw.ID, raw.Attribute, t),
			fmt.Sprintf("%s: %s", raw.Attribute, t), nil

	case config.ActionRemoveAttribute:
		if raw.Attribute == "" {
			return nil, "", fmt.Errorf("attribute is required")
		}
		return NewRemoveAttribute(raw.ID, raw.Attribute), raw.Attribute, nil

	case config.ActionInsert:
		pos := Position(raw.Position)
		switch pos {
		case PositionBefore, PositionAfter, PositionPrepend, PositionAppend:
		default:
			return nil, "", fmt.Errorf("unknown position %q", raw.Position)
		}
		content, err := loadContent(raw, cfg)
		if err != nil {
			return nil, "", err
		}
		if content == "" {
			return nil, "", fmt.Errorf("content is required")
		}
		return NewInsert(raw.ID, pos, content, raw.HTML),
			fmt.Sprintf("%s: %s", pos, snippet(content)), nil

	case config.ActionWrap:
		if raw.Prefix == "" && raw.Suffix == "" {
			return nil, "", fmt.Errorf("prefix or suffix is required")
		}
		return NewWrap(raw.ID, raw.Prefix, raw.Suffix),
			snippet(raw.Prefix + " ... " + raw.Suffix), nil

	default:
		return nil, "", fmt.Errorf("unknown action %q", raw.Action)
	}
}

func loadContent(raw config.Rule, cfg *config.Config) (string, error) {
	if raw.ContentFile == "" {
		return raw.Content, nil
	}
	data, err := os.ReadFile(cfg.ResolvePath(raw.ContentFile))
	if err != nil {
		return "", fmt.Errorf("contentFile: %w", err)
	}
	return string(data), nil
}
