// internal/browser/session/scripts.go
package session

import (
	"encoding/json"
	"fmt"
)

// Status values returned by element scripts.
const (
	statusOK          = "ok"
	statusMissing     = "missing"
	statusNotEditable = "not_editable"
	statusNotSelect   = "not_select"
	statusNoOption    = "no_option"
	statusInvisible   = "invisible"
)

// elementResult is the common shape every element script returns.
type elementResult struct {
	Status string  `json:"status"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Rich   bool    `json:"rich"`
}

// elementScript wraps body so it runs with `el` bound to the element the
// selector addresses in the document the script is evaluated in. body must
// return an object with a status field.
func elementScript(selector, body string) string {
	return fmt.Sprintf(`(function() {
  const el = document.querySelector(%s);
  if (!el) return {status: %q};
  %s
})()`, jsonEncode(selector), statusMissing, body)
}

// jsonEncode safely embeds a Go value as a JS literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

const forceClickBody = `el.click();
  return {status: 'ok'};`

// The box is relative to the frame's own viewport; callers add the frame
// offset for framed elements.
const boundingBoxBody = `const r = el.getBoundingClientRect();
  if (r.width <= 0 || r.height <= 0) return {status: 'invisible'};
  return {status: 'ok', x: r.left, y: r.top, width: r.width, height: r.height};`

const visibleBody = `const r = el.getBoundingClientRect();
  const st = window.getComputedStyle(el);
  if (r.width <= 0 || r.height <= 0 || st.visibility === 'hidden' || st.display === 'none') return {status: 'invisible'};
  return {status: 'ok'};`

const scrollIntoViewBody = `el.scrollIntoView({block: 'center', inline: 'center'});
  return {status: 'ok'};`

const focusBody = `el.focus();
  return {status: 'ok'};`

const richEditableBody = `return {status: 'ok', rich: !!el.isContentEditable};`

// setValueBody uses the prototype's value setter so frameworks that track
// the property see the change, then fires input and change.
func setValueBody(value string) string {
	return fmt.Sprintf(`const tag = el.tagName;
  const type = (el.getAttribute('type') || '').toLowerCase();
  const blocked = ['checkbox', 'radio', 'file', 'submit', 'button', 'image', 'reset', 'hidden'];
  if (!(tag === 'INPUT' || tag === 'TEXTAREA') || blocked.indexOf(type) !== -1 || el.disabled || el.readOnly) {
    return {status: 'not_editable'};
  }
  const proto = tag === 'INPUT' ? HTMLInputElement.prototype : HTMLTextAreaElement.prototype;
  const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
  el.focus();
  setter.call(el, %s);
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return {status: 'ok'};`, jsonEncode(value))
}

// selectOptionBody matches by option value first, then by trimmed label.
func selectOptionBody(value string) string {
	return fmt.Sprintf(`if (el.tagName !== 'SELECT') return {status: 'not_select'};
  const want = %s;
  const opts = Array.prototype.slice.call(el.options);
  let idx = opts.findIndex(function(o) { return o.value === want; });
  if (idx === -1) idx = opts.findIndex(function(o) { return (o.label || o.textContent || '').trim() === want.trim(); });
  if (idx === -1) return {status: 'no_option'};
  el.selectedIndex = idx;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return {status: 'ok'};`, jsonEncode(value))
}

// formStateJS defines formState(doc), one line per form control.
const formStateJS = `const formState = function(d) {
    const out = [];
    d.querySelectorAll('input, textarea, select').forEach(function(el, i) {
      const files = el.files ? el.files.length : 0;
      out.push([i, el.tagName, el.type || '', el.value, el.checked ? 1 : 0, el.selectedIndex === undefined ? -1 : el.selectedIndex, files].join('|'));
    });
    return out;
  };`

// pageStateScript collects the fingerprint inputs of the top document. Child
// frames are read separately through their own execution contexts.
func pageStateScript(scope string, includeForm bool) string {
	return fmt.Sprintf(`(function(scope, withForm) {
  %s
  const root = document.querySelector(scope) || document.documentElement;
  return {url: location.href, html: root.outerHTML, form: withForm ? formState(document) : [], scrollX: window.scrollX, scrollY: window.scrollY};
})(%s, %t)`, formStateJS, jsonEncode(scope), includeForm)
}

// frameStateScript is the per-frame counterpart of pageStateScript.
func frameStateScript(includeForm bool) string {
	return fmt.Sprintf(`(function(withForm) {
  %s
  const root = document.documentElement;
  return {html: root ? root.outerHTML : '', form: withForm ? formState(document) : []};
})(%t)`, formStateJS, includeForm)
}

const scrollToScript = `(function(x, y) { window.scrollTo(x, y); return true; })(%v, %v)`
