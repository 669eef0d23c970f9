package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/mocks"
)

func axVal(raw string) *accessibility.Value {
	return &accessibility.Value{Value: []byte(raw)}
}

func axNode(id, parent, role, name string, ignored bool, children ...string) *accessibility.Node {
	n := &accessibility.Node{
		NodeID:   accessibility.NodeID(id),
		ParentID: accessibility.NodeID(parent),
		Ignored:  ignored,
	}
	if role != "" {
		n.Role = axVal(`"` + role + `"`)
	}
	if name != "" {
		n.Name = axVal(`"` + name + `"`)
	}
	for _, c := range children {
		n.ChildIDs = append(n.ChildIDs, accessibility.NodeID(c))
	}
	return n
}

func TestBuildAXTree(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, BuildAXTree(nil))
	})

	t.Run("nests and lifts ignored nodes", func(t *testing.T) {
		nodes := []*accessibility.Node{
			axNode("1", "", "RootWebArea", "Shop", false, "2", "5"),
			axNode("2", "1", "generic", "", true, "3", "4"),
			axNode("3", "2", "button", "Buy", false),
			axNode("4", "2", "link", "Help", false),
			axNode("5", "1", "heading", "Cart", false),
		}
		nodes[2].Properties = []*accessibility.Property{
			{Name: accessibility.PropertyName("focusable"), Value: axVal("true")},
		}

		got := BuildAXTree(nodes)
		want := &schemas.AXNode{
			Role: "RootWebArea", Name: "Shop",
			Children: []*schemas.AXNode{
				{Role: "button", Name: "Buy", Properties: map[string]interface{}{"focusable": true}},
				{Role: "link", Name: "Help"},
				{Role: "heading", Name: "Cart"},
			},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("BuildAXTree mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 4, got.Count())
	})

	t.Run("ignored root with several children gets a synthetic root", func(t *testing.T) {
		nodes := []*accessibility.Node{
			axNode("1", "", "", "", true, "2", "3"),
			axNode("2", "1", "button", "A", false),
			axNode("3", "1", "button", "B", false),
		}
		got := BuildAXTree(nodes)
		require.NotNil(t, got)
		assert.Equal(t, "RootWebArea", got.Role)
		assert.Len(t, got.Children, 2)
	})

	t.Run("cycles do not loop", func(t *testing.T) {
		nodes := []*accessibility.Node{
			axNode("1", "", "RootWebArea", "", false, "2"),
			axNode("2", "1", "group", "", false, "1"),
		}
		got := BuildAXTree(nodes)
		require.NotNil(t, got)
		assert.Equal(t, 2, got.Count())
	})

	t.Run("numeric values are stringified", func(t *testing.T) {
		n := axNode("1", "", "slider", "Volume", false)
		n.Value = axVal("42")
		got := BuildAXTree([]*accessibility.Node{n})
		assert.Equal(t, "42", got.Value)
	})
}

func newExtractor(t *testing.T) *Extractor {
	return NewExtractor(config.NewDefaultConfig(), zaptest.NewLogger(t))
}

func TestExtractor_SemanticDOM(t *testing.T) {
	d := new(mocks.MockDriver)
	long := strings.Repeat("é", 250)
	d.On("Evaluate", mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "[contenteditable]") && strings.Contains(s, "(200, 0)")
	}), mock.Anything).
		Run(mocks.DecodeInto(`[
			{"tag":"button","role":null,"text":"`+long+`","aria":null,"placeholder":null,"type":"submit","href":null,"selector":"button[data-testid=\"buy\"]"},
			{"tag":"a","role":"link","text":"Help","aria":"Help","placeholder":null,"type":null,"href":"/help","selector":"a#help"}
		]`)).
		Return(nil)

	elems, err := newExtractor(t).SemanticDOM(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, elems, 2)
	assert.Equal(t, 200, len([]rune(elems[0].Text)))
	assert.Nil(t, elems[0].Role)
	require.NotNil(t, elems[0].Type)
	assert.Equal(t, "submit", *elems[0].Type)
	assert.Equal(t, "a#help", elems[1].Selector)
	d.AssertExpectations(t)
}

func TestExtractor_SemanticDOMEmptyPage(t *testing.T) {
	d := new(mocks.MockDriver)
	d.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Run(mocks.DecodeInto(`null`)).Return(nil)

	elems, err := newExtractor(t).SemanticDOM(context.Background(), d)
	require.NoError(t, err)
	assert.NotNil(t, elems)
	assert.Empty(t, elems)
}

func TestExtractor_CaptureDegrades(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := NewExtractor(config.NewDefaultConfig(), zap.New(core))

	d := new(mocks.MockDriver)
	d.On("Evaluate", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("target crashed"))
	d.On("AccessibilityNodes", mock.Anything).Return(nil, errors.New("domain disabled"))

	snap := e.Capture(context.Background(), d)
	assert.Nil(t, snap.SemanticDOM)
	assert.Nil(t, snap.AccessibilityTree)
	assert.Equal(t, 1, logs.FilterMessage("Accessibility tree unavailable.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Semantic DOM unavailable.").Len())
}

func TestExtractor_ClampsTextLength(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SnapshotCfg.MaxTextLength = 5000
	e := NewExtractor(cfg, zaptest.NewLogger(t))
	assert.Equal(t, MaxTextLength, e.cfg.MaxTextLength)

	cfg.SnapshotCfg.MaxTextLength = 40
	assert.Equal(t, 40, NewExtractor(cfg, zaptest.NewLogger(t)).cfg.MaxTextLength)
}

func TestSemanticDOMScript(t *testing.T) {
	s := semanticDOMScript(200, 50)
	assert.True(t, strings.HasSuffix(s, "(200, 50)"))
	// Precedence order in the generated script.
	testID := strings.Index(s, "if (testId)")
	id := strings.Index(s, "else if (el.id)")
	name := strings.Index(s, "else if (name)")
	aria := strings.Index(s, "else if (aria)")
	require.True(t, testID > 0 && id > testID && name > id && aria > name)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "hi", truncateRunes("hi", 4))
}
