package browser

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/xkilldash9x/mender/api/schemas"
)

var modifierNames = map[string]schemas.KeyModifier{
	"alt":     schemas.ModAlt,
	"option":  schemas.ModAlt,
	"control": schemas.ModCtrl,
	"ctrl":    schemas.ModCtrl,
	"meta":    schemas.ModMeta,
	"cmd":     schemas.ModMeta,
	"command": schemas.ModMeta,
	"super":   schemas.ModMeta,
	"shift":   schemas.ModShift,
}

// ParseKeyCombo turns "Control+Shift+K", "Enter" or "Meta++" into a key
// plus modifier mask. "ControlOrMeta" means Meta on macOS and Control
// elsewhere.
func ParseKeyCombo(combo string) (schemas.KeyEventData, error) {
	combo = strings.TrimSpace(combo)
	if combo == "" {
		return schemas.KeyEventData{}, fmt.Errorf("empty key combination")
	}

	var tokens []string
	if strings.HasSuffix(combo, "++") {
		tokens = append(strings.Split(strings.TrimSuffix(combo, "++"), "+"), "+")
	} else if combo == "+" {
		tokens = []string{"+"}
	} else {
		tokens = strings.Split(combo, "+")
	}

	var out schemas.KeyEventData
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		last := i == len(tokens)-1
		if tok == "" {
			return schemas.KeyEventData{}, fmt.Errorf("malformed key combination %q", combo)
		}
		if last {
			out.Key = tok
			break
		}
		lower := strings.ToLower(tok)
		if lower == "controlormeta" {
			out.Modifiers |= primaryModifier()
			continue
		}
		mod, ok := modifierNames[lower]
		if !ok {
			return schemas.KeyEventData{}, fmt.Errorf("unknown modifier %q in key combination %q", tok, combo)
		}
		out.Modifiers |= mod
	}
	return out, nil
}

func primaryModifier() schemas.KeyModifier {
	if runtime.GOOS == "darwin" {
		return schemas.ModMeta
	}
	return schemas.ModCtrl
}
