// Package decision turns free-form oracle output into trading instructions.
package decision

import "strings"

// Action is one of the canonical instruction verbs.
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
	ActionHold       Action = "hold"
	ActionWait       Action = "wait"
)

// Actions lists the vocabulary in a stable order.
var Actions = []Action{ActionOpenLong, ActionOpenShort, ActionCloseLong, ActionCloseShort, ActionHold, ActionWait}

func (a Action) Valid() bool {
	for _, v := range Actions {
		if a == v {
			return true
		}
	}
	return false
}

func (a Action) IsOpen() bool { return a == ActionOpenLong || a == ActionOpenShort }

func (a Action) IsClose() bool { return a == ActionCloseLong || a == ActionCloseShort }

var synonyms = map[string]Action{
	"buy":           ActionOpenLong,
	"long":          ActionOpenLong,
	"go_long":       ActionOpenLong,
	"enter_long":    ActionOpenLong,
	"sell":          ActionOpenShort,
	"short":         ActionOpenShort,
	"go_short":      ActionOpenShort,
	"enter_short":   ActionOpenShort,
	"exit_long":     ActionCloseLong,
	"close_buy":     ActionCloseLong,
	"sell_to_close": ActionCloseLong,
	"exit_short":    ActionCloseShort,
	"close_sell":    ActionCloseShort,
	"buy_to_cover":  ActionCloseShort,
	"cover":         ActionCloseShort,
	"hold_position": ActionHold,
	"keep":          ActionHold,
	"stay":          ActionHold,
	"none":          ActionWait,
	"no_trade":      ActionWait,
	"skip":          ActionWait,
	"observe":       ActionWait,
	"neutral":       ActionWait,
}

// NormalizeAction folds case, separators and common synonyms onto the
// canonical vocabulary. Unknown verbs come back lower-cased so the validator
// can name them.
func NormalizeAction(s string) Action {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	if a := Action(k); a.Valid() {
		return a
	}
	if a, ok := synonyms[k]; ok {
		return a
	}
	return Action(k)
}
