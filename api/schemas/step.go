package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action names a single kind of browser instruction.
type Action string

const (
	ActionGoto              Action = "goto"
	ActionClick             Action = "click"
	ActionWaitFor           Action = "wait_for"
	ActionType              Action = "type"
	ActionPress             Action = "press"
	ActionHover             Action = "hover"
	ActionScreenshot        Action = "screenshot"
	ActionSetTitle          Action = "set_title"
	ActionKeyboardType      Action = "keyboard_type"
	ActionKeyboardPress     Action = "keyboard_press"
	ActionScrollTo          Action = "scroll_to"
	ActionScrollBy          Action = "scroll_by"
	ActionSelectOption      Action = "select_option"
	ActionUploadFile        Action = "upload_file"
	ActionFrameClick        Action = "frame_click"
	ActionFrameType         Action = "frame_type"
	ActionWait              Action = "wait"
	ActionWaitForNavigation Action = "wait_for_navigation"
)

// AllowedActions is the closed set of actions a step may carry, in the order
// they are advertised to the planner.
var AllowedActions = []Action{
	ActionGoto, ActionClick, ActionWaitFor, ActionType, ActionPress, ActionHover,
	ActionScreenshot, ActionSetTitle, ActionKeyboardType, ActionKeyboardPress,
	ActionScrollTo, ActionScrollBy, ActionSelectOption, ActionUploadFile,
	ActionFrameClick, ActionFrameType, ActionWait, ActionWaitForNavigation,
}

var allowedActionSet = func() map[Action]struct{} {
	m := make(map[Action]struct{}, len(AllowedActions))
	for _, a := range AllowedActions {
		m[a] = struct{}{}
	}
	return m
}()

// IsKnown reports whether the action belongs to the allowed set.
func (a Action) IsKnown() bool {
	_, ok := allowedActionSet[a]
	return ok
}

// IsFramed reports whether the action operates inside a named frame.
func (a Action) IsFramed() bool {
	return a == ActionFrameClick || a == ActionFrameType
}

// Step is one planner-authored browser instruction. Steps are treated as
// values: a repaired step replaces the failed one, it never edits it.
type Step struct {
	Action      Action    `json:"action" yaml:"action"`
	Selector    string    `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value       StepValue `json:"value,omitzero" yaml:"value,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	FrameName   string    `json:"frame_name,omitempty" yaml:"frame_name,omitempty"`
}

// stepWire is the encoded form of a Step. The pointer lets encoders that do
// not honour omitzero drop an absent value too.
type stepWire struct {
	Action      Action     `json:"action"`
	Selector    string     `json:"selector,omitempty"`
	Value       *StepValue `json:"value,omitempty"`
	Description string     `json:"description,omitempty"`
	FrameName   string     `json:"frame_name,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s Step) MarshalJSON() ([]byte, error) {
	w := stepWire{Action: s.Action, Selector: s.Selector, Description: s.Description, FrameName: s.FrameName}
	if !s.Value.IsZero() {
		v := s.Value
		w.Value = &v
	}
	return json.Marshal(w)
}

// Label returns the artifact label for the step at the given zero-based index.
func (s Step) Label(index int) string {
	if d := strings.TrimSpace(s.Description); d != "" {
		return d
	}
	return fmt.Sprintf("step_%d", index+1)
}

// ValueKind discriminates the shapes a StepValue can hold.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueString
	ValueNumber
	ValuePoint
	ValueList
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValuePoint:
		return "point"
	case ValueList:
		return "list"
	default:
		return "none"
	}
}

// StepValue is the polymorphic value of a step: a string, a number, an {x,y}
// offset or a list of strings. Partial offsets remember which axes were set.
type StepValue struct {
	kind  ValueKind
	str   string
	num   float64
	x, y  *float64
	items []string
}

// StringValue builds a string StepValue.
func StringValue(s string) StepValue { return StepValue{kind: ValueString, str: s} }

// NumberValue builds a numeric StepValue.
func NumberValue(n float64) StepValue { return StepValue{kind: ValueNumber, num: n} }

// PointValue builds an {x,y} StepValue with both axes set.
func PointValue(x, y float64) StepValue { return StepValue{kind: ValuePoint, x: &x, y: &y} }

// ListValue builds a list StepValue.
func ListValue(items ...string) StepValue {
	return StepValue{kind: ValueList, items: append([]string(nil), items...)}
}

// Kind returns the shape of the value.
func (v StepValue) Kind() ValueKind { return v.kind }

// IsZero reports whether no value was supplied.
func (v StepValue) IsZero() bool { return v.kind == ValueNone }

// Text returns the value as text. Numbers are formatted without a trailing
// fraction; offsets and lists are not text.
func (v StepValue) Text() (string, bool) {
	switch v.kind {
	case ValueString:
		return v.str, true
	case ValueNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Number returns the value as a number, parsing numeric strings.
func (v StepValue) Number() (float64, bool) {
	switch v.kind {
	case ValueNumber:
		return v.num, true
	case ValueString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Offset returns the {x,y} pair, substituting the defaults for absent axes.
func (v StepValue) Offset(defX, defY float64) (float64, float64, bool) {
	if v.kind != ValuePoint {
		return 0, 0, false
	}
	x, y := defX, defY
	if v.x != nil {
		x = *v.x
	}
	if v.y != nil {
		y = *v.y
	}
	return x, y, true
}

// Strings returns the list form. A single string is a one element list.
func (v StepValue) Strings() []string {
	switch v.kind {
	case ValueList:
		return append([]string(nil), v.items...)
	case ValueString:
		return []string{v.str}
	default:
		return nil
	}
}

func (v StepValue) String() string {
	switch v.kind {
	case ValueString, ValueNumber:
		s, _ := v.Text()
		return s
	case ValuePoint:
		x, y, _ := v.Offset(0, 0)
		return fmt.Sprintf("{x:%g, y:%g}", x, y)
	case ValueList:
		return "[" + strings.Join(v.items, ", ") + "]"
	default:
		return ""
	}
}

type pointWire struct {
	X *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y *float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

func (v StepValue) wire() interface{} {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueNumber:
		return v.num
	case ValuePoint:
		return pointWire{X: v.x, Y: v.y}
	case ValueList:
		return v.items
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v StepValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *StepValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = StepValue{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid string value: %w", err)
		}
		*v = StringValue(s)
	case '{':
		var p pointWire
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("invalid offset value (expected {x, y}): %w", err)
		}
		*v = StepValue{kind: ValuePoint, x: p.X, y: p.Y}
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("invalid list value (expected array of strings): %w", err)
		}
		*v = ListValue(items...)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported step value %s", string(data))
		}
		*v = NumberValue(n)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v StepValue) MarshalYAML() (interface{}, error) {
	return v.wire(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *StepValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*v = StepValue{}
			return nil
		}
		if node.Tag == "!!int" || node.Tag == "!!float" {
			var n float64
			if err := node.Decode(&n); err != nil {
				return fmt.Errorf("invalid numeric value: %w", err)
			}
			*v = NumberValue(n)
			return nil
		}
		if node.Tag == "!!bool" {
			return fmt.Errorf("unsupported step value %q at line %d", node.Value, node.Line)
		}
		*v = StringValue(node.Value)
	case yaml.MappingNode:
		var raw map[string]float64
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("invalid offset value (expected {x, y}) at line %d: %w", node.Line, err)
		}
		p := StepValue{kind: ValuePoint}
		for k, n := range raw {
			n := n
			switch k {
			case "x":
				p.x = &n
			case "y":
				p.y = &n
			default:
				return fmt.Errorf("unknown offset key %q at line %d", k, node.Line)
			}
		}
		*v = p
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return fmt.Errorf("invalid list value at line %d: %w", node.Line, err)
		}
		*v = ListValue(items...)
	default:
		return fmt.Errorf("unsupported step value at line %d", node.Line)
	}
	return nil
}
