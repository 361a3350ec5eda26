package spc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"spc2mqtt/internal/config"
	"spc2mqtt/internal/logger"
)

// ErrActionUnavailable means the category page carries no button for the
// requested (entity, action) pair — the entity does not exist or the panel
// does not offer that action for it.
var ErrActionUnavailable = errors.New("panel page offers no matching action")

// categoryPage maps a command category to the page carrying its buttons.
var categoryPage = map[string]string{
	config.CategoryZones:    PageZones,
	config.CategorySecteurs: PageHome,
	config.CategoryDoors:    PageDoors,
	config.CategoryOutputs:  PageOutputs,
}

// actionMatchers recognizes the submit button for each canonical action by
// its French label. Each predicate excludes its look-alikes explicitly, so
// "déverrouiller" does not match the "lock" rule and partial B does not
// match plain partial.
var actionMatchers = map[string]map[string]func(string) bool{
	config.CategorySecteurs: {
		"mhs": has("mhs"),
		"mes": func(s string) bool {
			return strings.Contains(s, "totale") || s == "mes"
		},
		"part": func(s string) bool {
			return strings.Contains(s, "partiel") && !strings.Contains(s, "b")
		},
		"partb": hasAll("partiel", "b"),
	},
	config.CategoryDoors: {
		"normal": has("normal"),
		"lock": func(s string) bool {
			if s == "lock" {
				return true
			}
			return strings.Contains(s, "verrouill") &&
				!strings.Contains(s, "déverrouill") && !strings.Contains(s, "deverrouill")
		},
		"unlock": anyOf(has("déverrouill"), has("deverrouill"), is("unlock")),
		"pulse":  anyOf(has("impulsion"), has("momentan"), is("pulse")),
	},
	config.CategoryOutputs: {
		"on":  anyOf(is("on"), has("marche"), has("activer")),
		"off": anyOf(is("off"), has("arrêt"), has("arret"), has("désactiver"), has("desactiver")),
	},
	config.CategoryZones: {
		"inhibit":   func(s string) bool { return strings.Contains(s, "inhib") && !strings.Contains(s, "sinhib") },
		"uninhibit": anyOf(has("désinhib"), has("desinhib")),
		"isolate":   func(s string) bool { return strings.Contains(s, "isol") && !strings.Contains(s, "sisol") },
		"unisolate": anyOf(has("désisol"), has("desisol")),
		"testjdb":   has("test"),
		"restore":   anyOf(has("rétabl"), has("retabl"), has("restaur")),
	},
}

// CommandExecutor replays panel form submissions for MQTT commands. The web
// UI exposes each action as a form button on the category's page; the
// executor fetches that page, finds the form addressing the target entity,
// and posts it with the matching button.
type CommandExecutor struct {
	client  *Client
	session *SessionManager
	log     *logger.Logger
}

// NewCommandExecutor builds an executor over the shared client and session.
func NewCommandExecutor(client *Client, session *SessionManager, log *logger.Logger) *CommandExecutor {
	return &CommandExecutor{client: client, session: session, log: log}
}

// Execute performs one panel action. Returned errors classify the ack:
// ErrNoSession, ErrActionUnavailable, *StatusError, or a transport error.
func (e *CommandExecutor) Execute(ctx context.Context, category, entityID, action string) error {
	page, ok := categoryPage[category]
	if !ok {
		return fmt.Errorf("unknown category %q", category)
	}
	match, ok := actionMatchers[category][action]
	if !ok {
		return fmt.Errorf("unknown action %q for category %q", action, category)
	}

	sid := e.session.GetOrLogin(ctx)
	if sid == "" {
		return ErrNoSession
	}

	// The page fetch and the form replay must not interleave with a login
	// or another command.
	return e.client.WithFlight(func() error {
		resp, err := e.client.Get(ctx, PagePath(sid, page))
		if err != nil {
			return err
		}
		form, button := findActionForm(ParseForms(resp.Body), entityID, match)
		if form == nil {
			return ErrActionUnavailable
		}
		data := url.Values{}
		for k, vs := range form.Fields {
			for _, v := range vs {
				data.Add(k, v)
			}
		}
		data.Set(button, form.Buttons[button])
		if _, err := e.client.PostForm(ctx, formPath(form.Action, sid, page), data); err != nil {
			return err
		}
		e.log.Debugw("panel command sent", "category", category, "id", entityID, "action", action)
		return nil
	})
}

// findActionForm picks the form whose fields reference the entity id and
// which carries a button matching the action label.
func findActionForm(forms []Form, entityID string, match func(string) bool) (*Form, string) {
	for i := range forms {
		f := &forms[i]
		if !formTargets(f, entityID) {
			continue
		}
		for name, label := range f.Buttons {
			probe := strings.ToLower(strings.TrimSpace(label))
			if probe == "" {
				probe = strings.ToLower(name)
			}
			if match(probe) {
				return f, name
			}
		}
	}
	return nil, ""
}

// formTargets reports whether a form addresses the given entity: any field
// whose name mentions "id" equals it, or any field value equals it.
func formTargets(f *Form, entityID string) bool {
	for name, vs := range f.Fields {
		for _, v := range vs {
			if v != entityID {
				continue
			}
			if strings.Contains(strings.ToLower(name), "id") {
				return true
			}
		}
	}
	for _, vs := range f.Fields {
		for _, v := range vs {
			if v == entityID {
				return true
			}
		}
	}
	return false
}

// formPath resolves a form action against the panel root, keeping the
// session id present. An empty action posts back to the page itself.
func formPath(action, sid, page string) string {
	if action == "" {
		return PagePath(sid, page)
	}
	if !strings.HasPrefix(action, "/") {
		action = "/" + action
	}
	if !strings.Contains(action, "session=") {
		sep := "?"
		if strings.Contains(action, "?") {
			sep = "&"
		}
		action += sep + "session=" + url.QueryEscape(sid)
	}
	return action
}
