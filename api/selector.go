package api

import (
	"fmt"
	"strings"
)

// Strategy tells a backend how to interpret a selector value.
type Strategy string

const (
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
	// StrategyText matches the innermost element whose text contains the value.
	StrategyText Strategy = "text"
)

// Selector locates an element on the current page.
type Selector struct {
	Strategy Strategy
	Value    string
}

// CSS returns a CSS selector.
func CSS(v string) Selector { return Selector{Strategy: StrategyCSS, Value: v} }

// XPath returns an XPath selector.
func XPath(v string) Selector { return Selector{Strategy: StrategyXPath, Value: v} }

// Text returns a selector matching elements whose text contains v.
func Text(v string) Selector { return Selector{Strategy: StrategyText, Value: v} }

// ParseStrategy parses a strategy name. An empty name means CSS.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyCSS, nil
	case StrategyCSS, StrategyXPath, StrategyText:
		return st, nil
	default:
		return "", fmt.Errorf("unknown selector strategy %q", s)
	}
}

// Validate reports whether the selector can be handed to a backend.
func (s Selector) Validate() error {
	if _, err := ParseStrategy(string(s.Strategy)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Value) == "" {
		return fmt.Errorf("empty %s selector", s.strategy())
	}
	return nil
}

// XPathExpr returns the selector as an XPath expression. It is only valid for
// the xpath and text strategies.
func (s Selector) XPathExpr() string {
	if s.strategy() == StrategyText {
		lit := xpathLiteral(s.Value)
		return fmt.Sprintf("//body//*[contains(normalize-space(.), %s)][not(*[contains(normalize-space(.), %s)])]", lit, lit)
	}
	return s.Value
}

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.strategy(), s.Value)
}

func (s Selector) strategy() Strategy {
	if s.Strategy == "" {
		return StrategyCSS
	}
	return s.Strategy
}

// xpathLiteral quotes v for use in an XPath 1.0 expression, which has no
// escape sequences.
func xpathLiteral(v string) string {
	switch {
	case !strings.Contains(v, `"`):
		return `"` + v + `"`
	case !strings.Contains(v, "'"):
		return "'" + v + "'"
	}

	parts := strings.Split(v, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
