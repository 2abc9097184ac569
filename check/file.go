package check

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidnuzik/navcheck/api"
)

// Parse reads a check file. Every check in it is validated, and check names
// must be unique.
//
//	checks:
//	  - name: github
//	    steps:
//	      - navigate: https://github.com/alice
//	      - sleep: 2s
//	      - click: {css: ".repo"}
//	      - assert_title_contains: alice
func Parse(r io.Reader) ([]*Check, error) {
	var doc struct {
		Checks []struct {
			Name  string    `yaml:"name"`
			Steps []stepDoc `yaml:"steps"`
		} `yaml:"checks"`
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidf("empty check file")
		}
		return nil, fmt.Errorf("%w: decoding check file: %v", ErrInvalidCheck, err)
	}
	if len(doc.Checks) == 0 {
		return nil, invalidf("check file defines no checks")
	}

	seen := make(map[string]bool, len(doc.Checks))
	checks := make([]*Check, 0, len(doc.Checks))
	for _, cd := range doc.Checks {
		c := &Check{Name: cd.Name}
		for _, sd := range cd.Steps {
			c.Steps = append(c.Steps, sd.step)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, invalidf("duplicate check name %q", c.Name)
		}
		seen[c.Name] = true
		checks = append(checks, c)
	}

	return checks, nil
}

// LoadFile parses the check file at path.
func LoadFile(path string) ([]*Check, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("opening check file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	checks, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return checks, nil
}

// stepDoc is a step written as a mapping with a single key naming its kind.
type stepDoc struct {
	step Step
}

func (d *stepDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return fmt.Errorf("line %d: a step must be a mapping with exactly one key", n.Line)
	}
	kind, val := n.Content[0].Value, n.Content[1]

	var err error
	switch kind {
	case "navigate":
		var s Navigate
		err = val.Decode(&s.URL)
		d.step = s
	case "sleep":
		var dur durationDoc
		err = val.Decode(&dur)
		d.step = Sleep{Duration: time.Duration(dur)}
	case "wait_for":
		d.step, err = decodeWaitFor(val)
	case "click":
		var sel selectorDoc
		err = val.Decode(&sel)
		d.step = Click{Selector: api.Selector(sel)}
	case "type":
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Text     string      `yaml:"text"`
		}
		err = decodeStrict(val, &v)
		d.step = Type{Selector: api.Selector(v.Selector), Text: v.Text}
	case "assert_title_contains":
		var s AssertTitleContains
		err = val.Decode(&s.Substring)
		d.step = s
	case "assert_url_contains":
		var s AssertURLContains
		err = val.Decode(&s.Substring)
		d.step = s
	case "assert_value":
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Value    string      `yaml:"value"`
		}
		err = decodeStrict(val, &v)
		d.step = AssertValue{Selector: api.Selector(v.Selector), Value: v.Value}
	case "assert_attribute":
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Name     string      `yaml:"name"`
			Value    string      `yaml:"value"`
			Negate   bool        `yaml:"negate"`
		}
		err = decodeStrict(val, &v)
		d.step = AssertAttribute{Selector: api.Selector(v.Selector), Attr: v.Name, Value: v.Value, Negate: v.Negate}
	case "assert_has_class":
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Class    string      `yaml:"class"`
		}
		err = decodeStrict(val, &v)
		d.step = AssertHasClass{Selector: api.Selector(v.Selector), Class: v.Class}
	case "assert_visible":
		d.step, err = decodeAssertVisible(val)
	default:
		return fmt.Errorf("line %d: unknown step %q", n.Line, kind)
	}
	if err != nil {
		return fmt.Errorf("line %d: %s: %w", n.Line, kind, err)
	}
	return nil
}

// decodeWaitFor accepts either a bare selector or a mapping with a selector
// and optional timeout and interval.
func decodeWaitFor(n *yaml.Node) (Step, error) {
	if n.Kind == yaml.MappingNode && hasKey(n, "selector") {
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Timeout  durationDoc `yaml:"timeout"`
			Interval durationDoc `yaml:"interval"`
		}
		if err := decodeStrict(n, &v); err != nil {
			return nil, err
		}
		return WaitFor{
			Selector: api.Selector(v.Selector),
			Timeout:  time.Duration(v.Timeout),
			Interval: time.Duration(v.Interval),
		}, nil
	}

	var sel selectorDoc
	if err := n.Decode(&sel); err != nil {
		return nil, err
	}
	return WaitFor{Selector: api.Selector(sel)}, nil
}

// decodeAssertVisible accepts either a bare selector or a mapping with a
// selector and the hidden flag.
func decodeAssertVisible(n *yaml.Node) (Step, error) {
	if n.Kind == yaml.MappingNode && hasKey(n, "selector") {
		var v struct {
			Selector selectorDoc `yaml:"selector"`
			Hidden   bool        `yaml:"hidden"`
		}
		if err := decodeStrict(n, &v); err != nil {
			return nil, err
		}
		return AssertVisible{Selector: api.Selector(v.Selector), Hidden: v.Hidden}, nil
	}

	var sel selectorDoc
	if err := n.Decode(&sel); err != nil {
		return nil, err
	}
	return AssertVisible{Selector: api.Selector(sel)}, nil
}

// decodeStrict decodes a mapping node, rejecting keys that v has no field for.
func decodeStrict(n *yaml.Node, v interface{}) error {
	if n.Kind != yaml.MappingNode {
		return errors.New("expected a mapping")
	}
	b, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

// selectorDoc is a CSS selector string or a mapping with one of the keys
// css, xpath or text.
type selectorDoc api.Selector

func (s *selectorDoc) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*s = selectorDoc(api.CSS(n.Value))
		return nil
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return errors.New("a selector mapping must have exactly one key")
		}
		strategy, err := api.ParseStrategy(n.Content[0].Value)
		if err != nil {
			return err
		}
		*s = selectorDoc(api.Selector{Strategy: strategy, Value: n.Content[1].Value})
		return nil
	default:
		return fmt.Errorf("line %d: invalid selector", n.Line)
	}
}

// durationDoc is a Go duration string or a number of milliseconds.
type durationDoc time.Duration

func (d *durationDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return errors.New("invalid duration")
	}
	var ms int64
	if err := n.Decode(&ms); err == nil {
		*d = durationDoc(time.Duration(ms) * time.Millisecond)
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = durationDoc(v)
	return nil
}
