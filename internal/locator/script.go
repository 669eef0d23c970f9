package locator

import (
	"encoding/json"
	"fmt"
)

// RefAttribute tags the element a resolution picked. The page fingerprint
// ignores it.
const RefAttribute = "data-mender-ref"

// Resolution is the decoded result of ResolveScript.
type Resolution struct {
	// Selector addresses the matched element within its document. Empty when
	// no alternative matched.
	Selector string `json:"selector"`
	// Index is the position of the winning alternative, or -1.
	Index int `json:"index"`
}

// Found reports whether an element was matched.
func (r Resolution) Found() bool { return r.Selector != "" }

// RefSelector is the CSS selector for an element tagged with ref.
func RefSelector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, RefAttribute, ref)
}

// ResolveScript renders a self-contained expression that tries each
// alternative of expr in order against the document it is evaluated in. The
// caller picks the frame by choosing the execution context. The first match
// is tagged with ref and the script evaluates to a Resolution.
func ResolveScript(expr Expression, ref string) string {
	alts := expr.Alternatives
	if alts == nil {
		alts = []Alternative{}
	}
	return fmt.Sprintf(resolveTemplate, jsonEncode(alts), jsonEncode(ref), jsonEncode(RefAttribute))
}

func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}

const resolveTemplate = `(function(alts, ref, attr) {
  const doc = document;
  doc.querySelectorAll('[' + attr + ']').forEach(function(el) { el.removeAttribute(attr); });

  const norm = function(s) { return (s || '').replace(/\s+/g, ' ').trim(); };
  const textOf = function(el) { return norm(el.innerText !== undefined ? el.innerText : el.textContent); };
  const all = function(sel) {
    try { return Array.prototype.slice.call(doc.querySelectorAll(sel || '*')); } catch (e) { return []; }
  };
  // Among matches, keep those with no matching descendant.
  const innermost = function(els) {
    return els.filter(function(el) {
      return !els.some(function(other) { return other !== el && el.contains(other); });
    });
  };
  const implicitRoles = {
    A: 'link', BUTTON: 'button', SELECT: 'combobox', TEXTAREA: 'textbox', H1: 'heading', H2: 'heading',
    H3: 'heading', H4: 'heading', H5: 'heading', H6: 'heading', IMG: 'img', NAV: 'navigation',
    MAIN: 'main', UL: 'list', OL: 'list', LI: 'listitem', TABLE: 'table', FORM: 'form', DIALOG: 'dialog'
  };
  const roleOf = function(el) {
    const explicit = el.getAttribute('role');
    if (explicit) return explicit.split(' ')[0];
    if (el.tagName === 'INPUT') {
      const t = (el.getAttribute('type') || 'text').toLowerCase();
      if (t === 'checkbox') return 'checkbox';
      if (t === 'radio') return 'radio';
      if (t === 'button' || t === 'submit' || t === 'reset') return 'button';
      if (t === 'search') return 'searchbox';
      return 'textbox';
    }
    if (el.tagName === 'A' && !el.hasAttribute('href')) return '';
    if (el.isContentEditable && el.parentElement && !el.parentElement.isContentEditable) return 'textbox';
    return implicitRoles[el.tagName] || '';
  };
  const nameOf = function(el) {
    const by = el.getAttribute('aria-labelledby');
    if (by) {
      const label = by.split(' ').map(function(id) { const n = doc.getElementById(id); return n ? textOf(n) : ''; }).join(' ');
      if (norm(label)) return norm(label);
    }
    return norm(el.getAttribute('aria-label') || el.getAttribute('title') || el.getAttribute('alt') ||
      el.getAttribute('placeholder') || textOf(el) || el.value || '');
  };

  // scope, when set, is a selector for the element a :has-text clause
  // matched; the alternative's CSS starts with the combinator after it.
  const scoped = function(css, scope) {
    if (!scope) return css;
    return scope + ' ' + (css || '*');
  };
  let marks = 0;
  const scopeAttr = attr + '-scope';
  const find = function(a, scope) {
    switch (a.kind) {
      case 'css':
        return all(scoped(a.css, scope))[0] || null;
      case 'has_text': {
        const needle = (a.text || '').toLowerCase();
        let hits = all(scoped(a.css, scope)).filter(function(el) { return textOf(el).toLowerCase().indexOf(needle) !== -1; });
        if (!a.css || /\*$/.test(a.css)) hits = innermost(hits);
        if (!a.within) return hits[0] || null;
        for (let h = 0; h < hits.length; h++) {
          const mark = String(++marks);
          hits[h].setAttribute(scopeAttr, mark);
          const el = find(a.within, '[' + scopeAttr + '="' + mark + '"]');
          hits[h].removeAttribute(scopeAttr);
          if (el) return el;
        }
        return null;
      }
      case 'text': {
        const want = norm(a.text);
        const lower = want.toLowerCase();
        const root = doc.body || doc.documentElement;
        const hits = all('*').filter(function(el) {
          if (!root.contains(el) || el.tagName === 'SCRIPT' || el.tagName === 'STYLE') return false;
          const t = textOf(el);
          return a.exact ? t === want : t.toLowerCase().indexOf(lower) !== -1;
        });
        return innermost(hits)[0] || null;
      }
      case 'role': {
        const needle = (a.name || '').toLowerCase();
        return all('*').find(function(el) {
          if (roleOf(el) !== a.role) return false;
          return !needle || nameOf(el).toLowerCase().indexOf(needle) !== -1;
        }) || null;
      }
      case 'xpath': {
        try {
          const n = doc.evaluate(a.xpath, doc, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
          return n && n.nodeType === 1 ? n : null;
        } catch (e) { return null; }
      }
    }
    return null;
  };

  for (let i = 0; i < alts.length; i++) {
    const el = find(alts[i], '');
    if (el) {
      el.setAttribute(attr, ref);
      return {selector: '[' + attr + '="' + ref + '"]', index: i};
    }
  }
  return {selector: '', index: -1};
})(%s, %s, %s)`
