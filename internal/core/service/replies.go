package service

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/importauto/leadline/internal/core/domain"
)

//go:embed replies.yaml
var defaultReplies []byte

// requiredReplies lists every key the services render.
var requiredReplies = []string{
	"bot.greeting", "bot.ask_budget", "bot.declined", "bot.budget_digits",
	"bot.ask_car_type", "bot.confirmed", "bot.already_done", "bot.text_only",
	"flow.header", "flow.body", "flow.cta",
	"operator.login_ok", "operator.login_failed", "operator.login_required",
	"operator.logout", "operator.help", "operator.usage", "operator.list_empty",
	"operator.list", "operator.not_found", "operator.takeover_ok",
	"operator.takeover_client", "operator.release_ok", "operator.release_client",
	"operator.no_active_chat", "operator.history_empty", "operator.history",
	"operator.client_message", "operator.client_voice", "operator.client_form",
	"operator.lead",
}

// Replies renders user-facing texts from a YAML catalogue.
type Replies struct {
	templates map[string]*template.Template
}

// LoadReplies parses a catalogue of sections, each mapping a key to a
// text/template body, and checks that every required key is present.
func LoadReplies(data []byte) (*Replies, error) {
	var sections map[string]map[string]string
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("replies: parse yaml: %w", err)
	}
	r := &Replies{templates: make(map[string]*template.Template)}
	for section, entries := range sections {
		for key, body := range entries {
			name := section + "." + key
			t, err := template.New(name).Option("missingkey=zero").Parse(body)
			if err != nil {
				return nil, fmt.Errorf("replies: %s: %w", name, err)
			}
			r.templates[name] = t
		}
	}
	var missing []string
	for _, key := range requiredReplies {
		if _, ok := r.templates[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("replies: missing keys %s", strings.Join(missing, ", "))
	}
	return r, nil
}

// DefaultReplies returns the embedded catalogue.
func DefaultReplies() *Replies {
	r, err := LoadReplies(defaultReplies)
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the template for key. A render failure falls back to the
// raw key so a reply is still sent.
func (r *Replies) Render(key string, data any) string {
	t, ok := r.templates[key]
	if !ok {
		return key
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return key
	}
	return b.String()
}

// Bot renders a state-machine reply.
func (r *Replies) Bot(key domain.ReplyKey, data any) string {
	return r.Render("bot."+string(key), data)
}

// Operator renders an operator console text.
func (r *Replies) Operator(key string, data any) string {
	return r.Render("operator."+key, data)
}

// replyData is the template context for client-facing texts.
type replyData struct {
	Name       string
	Identifier string
	Budget     string
	CarType    string
	Text       string
	Usage      string
}

func clientReplyData(c domain.Client) replyData {
	d := replyData{Name: c.DisplayName(), Identifier: c.Identifier}
	if c.Budget != nil {
		d.Budget = *c.Budget
	}
	if c.CarType != nil {
		d.CarType = *c.CarType
	}
	return d
}
