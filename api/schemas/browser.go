package schemas

// -- Page Snapshot Schemas --

// ElementDescriptor is the compact description of one actionable element as
// reported to the planner.
type ElementDescriptor struct {
	Tag         string  `json:"tag"`
	Role        *string `json:"role"`
	Text        string  `json:"text"`
	Aria        *string `json:"aria"`
	Placeholder *string `json:"placeholder"`
	Type        *string `json:"type"`
	Href        *string `json:"href"`
	Selector    string  `json:"selector"`
}

// AXNode is one node of the nested accessibility snapshot.
type AXNode struct {
	Role        string                 `json:"role"`
	Name        string                 `json:"name,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Children    []*AXNode              `json:"children,omitempty"`
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *AXNode) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Snapshot pairs the semantic DOM with the accessibility tree. The tree is
// nil when the platform could not produce one.
type Snapshot struct {
	SemanticDOM       []ElementDescriptor `json:"semantic_dom"`
	AccessibilityTree *AXNode             `json:"accessibility_tree"`
}

// -- Geometry & Input Schemas --

// BoundingBox is an element's layout rectangle in viewport CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Empty reports whether the box has no clickable area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// KeyModifier represents keyboard modifiers (Ctrl, Alt, Shift, Meta).
// These values correspond directly to the CDP input.DispatchKeyEvent modifiers bitfield.
type KeyModifier int

const (
	ModNone  KeyModifier = 0
	ModAlt   KeyModifier = 1
	ModCtrl  KeyModifier = 2
	ModMeta  KeyModifier = 4
	ModShift KeyModifier = 8
)

// KeyEventData is a structured key press: the main key and its modifiers.
type KeyEventData struct {
	// Key is the primary key (e.g., "a", "Enter", "Backspace").
	Key       string
	Modifiers KeyModifier
}

// -- Storage State Schemas --

// Cookie mirrors a cookie entry of a saved browser storage state file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginStorage is the localStorage content saved for one origin.
type OriginStorage struct {
	Origin       string         `json:"origin"`
	LocalStorage []StorageEntry `json:"localStorage"`
}

// StorageEntry is a single localStorage key/value pair.
type StorageEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StorageState is a previously captured browser state (cookies and per-origin
// localStorage) that is loaded before the first step runs.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}
