package snapshot

import (
	"encoding/json"
	"fmt"
)

// semanticDOMTemplate describes every actionable element in document order.
// Selector precedence: data-testid, id, name, aria-label, tag plus up to two
// classes, bare tag.
const semanticDOMTemplate = `(function(maxText, maxElements) {
  const nodes = document.querySelectorAll('button, a, input, textarea, select, [role], [contenteditable]');
  const esc = (v) => String(v).replace(/\\/g, '\\\\').replace(/"/g, '\\"');
  const cssId = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : esc(v);
  const describe = (el) => {
    const tag = el.tagName.toLowerCase();
    const text = (el.innerText || '').trim().slice(0, maxText);
    const aria = el.getAttribute('aria-label');
    const role = el.getAttribute('role');
    const placeholder = el.getAttribute('placeholder');
    const type = el.getAttribute('type');
    const href = el.getAttribute('href');
    const testId = el.getAttribute('data-testid');
    const name = el.getAttribute('name');
    let selector;
    if (testId) selector = tag + '[data-testid="' + esc(testId) + '"]';
    else if (el.id) selector = tag + '#' + cssId(el.id);
    else if (name) selector = tag + '[name="' + esc(name) + '"]';
    else if (aria) selector = tag + '[aria-label="' + esc(aria) + '"]';
    else {
      const classes = Array.prototype.slice.call(el.classList, 0, 2).map(cssId).join('.');
      selector = classes ? tag + '.' + classes : tag;
    }
    return {tag: tag, role: role, text: text, aria: aria, placeholder: placeholder, type: type, href: href, selector: selector};
  };
  let list = Array.prototype.slice.call(nodes);
  if (maxElements > 0) list = list.slice(0, maxElements);
  return list.map(describe);
})(%d, %d)`

func semanticDOMScript(maxText, maxElements int) string {
	return fmt.Sprintf(semanticDOMTemplate, maxText, maxElements)
}

// decodeValue turns a raw CDP accessibility value into a plain Go value.
func decodeValue(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
