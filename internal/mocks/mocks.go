// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/locator"
)

// -- Driver Mock --

// MockDriver mocks the browser.Driver interface.
type MockDriver struct {
	mock.Mock
}

var _ browser.Driver = (*MockDriver)(nil)

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) WaitForLoad(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	return m.Called(ctx, quiet).Error(0)
}

func (m *MockDriver) Resolve(ctx context.Context, expr locator.Expression, frame string) (browser.Element, error) {
	args := m.Called(ctx, expr, frame)
	return args.Get(0).(browser.Element), args.Error(1)
}

func (m *MockDriver) WaitVisible(ctx context.Context, el browser.Element, timeout time.Duration) error {
	return m.Called(ctx, el, timeout).Error(0)
}

func (m *MockDriver) ScrollIntoView(ctx context.Context, el browser.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) Click(ctx context.Context, el browser.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) ForceClick(ctx context.Context, el browser.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) BoundingBox(ctx context.Context, el browser.Element) (schemas.BoundingBox, error) {
	args := m.Called(ctx, el)
	return args.Get(0).(schemas.BoundingBox), args.Error(1)
}

func (m *MockDriver) Focus(ctx context.Context, el browser.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockDriver) SetValue(ctx context.Context, el browser.Element, value string) error {
	return m.Called(ctx, el, value).Error(0)
}

func (m *MockDriver) IsRichEditable(ctx context.Context, el browser.Element) (bool, error) {
	args := m.Called(ctx, el)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) SelectOption(ctx context.Context, el browser.Element, value string) error {
	return m.Called(ctx, el, value).Error(0)
}

func (m *MockDriver) SetInputFiles(ctx context.Context, el browser.Element, paths []string) error {
	return m.Called(ctx, el, paths).Error(0)
}

func (m *MockDriver) MouseMove(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockDriver) MouseClick(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockDriver) MouseWheel(ctx context.Context, dx, dy float64) error {
	return m.Called(ctx, dx, dy).Error(0)
}

func (m *MockDriver) TypeText(ctx context.Context, text string, delay time.Duration) error {
	return m.Called(ctx, text, delay).Error(0)
}

func (m *MockDriver) PressKey(ctx context.Context, key schemas.KeyEventData) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockDriver) ScrollTo(ctx context.Context, x, y float64) error {
	return m.Called(ctx, x, y).Error(0)
}

// Evaluate records the call. Pair it with DecodeInto to fill res.
func (m *MockDriver) Evaluate(ctx context.Context, script string, res interface{}) error {
	return m.Called(ctx, script, res).Error(0)
}

func (m *MockDriver) PageState(ctx context.Context, scope string, includeForm bool) (browser.PageState, error) {
	args := m.Called(ctx, scope, includeForm)
	return args.Get(0).(browser.PageState), args.Error(1)
}

func (m *MockDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockDriver) AccessibilityNodes(ctx context.Context) ([]*accessibility.Node, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]*accessibility.Node)
	return nodes, args.Error(1)
}

// DecodeInto returns a Run function that unmarshals payload into the res
// argument of an Evaluate call.
func DecodeInto(payload string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		if err := json.Unmarshal([]byte(payload), args.Get(2)); err != nil {
			panic(err)
		}
	}
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Planner Mock --

// MockPlanner mocks the schemas.Planner interface and keeps every repair
// request it receives.
type MockPlanner struct {
	mock.Mock

	mu       sync.Mutex
	requests []schemas.RepairRequest
}

func (m *MockPlanner) Plan(ctx context.Context, task string) (string, error) {
	args := m.Called(ctx, task)
	return args.String(0), args.Error(1)
}

func (m *MockPlanner) Repair(ctx context.Context, req schemas.RepairRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Requests returns the repair requests received so far.
func (m *MockPlanner) Requests() []schemas.RepairRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.RepairRequest(nil), m.requests...)
}
