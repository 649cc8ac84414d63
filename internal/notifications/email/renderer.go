package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"alertrelay/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

// detail is one optional event data field shown in the email.
type detail struct {
	Label string
	Value string
}

// templateData is the struct passed into the templates.
type templateData struct {
	Subject       string
	Title         string
	AccentColor   string
	ResourceLabel string
	ResourceType  string
	ResourceID    string
	EventType     string
	FormattedTime string
	RuleName      string
	Details       []detail
}

// subjectPrefixes maps event types to their email subject line prefix.
var subjectPrefixes = map[types.EventType]string{
	types.EventDeviceOffline:  "Device Offline",
	types.EventDeviceOnline:   "Device Online",
	types.EventDeviceDegraded: "Device Degraded",
	types.EventAgentOffline:   "Agent Offline",
	types.EventAgentOnline:    "Agent Online",
	types.EventAgentDegraded:  "Agent Degraded",
	types.EventScanComplete:   "Scan Complete",
}

// detailFields are the event data keys rendered when present, in order.
var detailFields = []struct {
	key   string
	label string
}{
	{"ip_address", "IP Address"},
	{"status", "Status"},
	{"previous_status", "Previous Status"},
	{"hostname", "Hostname"},
	{"site_name", "Site"},
	{"reason", "Reason"},
}

// Renderer renders notification emails from the embedded templates. All
// event types share one layout; the subject prefix and accent color vary.
type Renderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}
	eventHTML, err := templateFS.ReadFile("templates/event.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read event.html: %w", err)
	}
	eventText, err := templateFS.ReadFile("templates/event.txt")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read event.txt: %w", err)
	}

	htmlTmpl, err := template.New("base").Parse(string(baseHTML))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
	}
	if _, err := htmlTmpl.Parse(string(eventHTML)); err != nil {
		return nil, fmt.Errorf("renderer: failed to parse event.html: %w", err)
	}

	txtTmpl, err := texttemplate.New("event").Parse(string(eventText))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse event.txt: %w", err)
	}

	return &Renderer{html: htmlTmpl, text: txtTmpl}, nil
}

// Render produces the subject and both bodies for event. Event data values
// are escaped by html/template in the HTML body.
func (r *Renderer) Render(event types.NotificationEvent, rule types.NotificationRule) (*RenderedEmail, error) {
	data := buildTemplateData(event, rule)

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML for %q: %w", event.Type, err)
	}

	var txtBuf bytes.Buffer
	if err := r.text.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text for %q: %w", event.Type, err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

func buildTemplateData(event types.NotificationEvent, rule types.NotificationRule) templateData {
	prefix := subjectPrefixes[event.Type]
	if prefix == "" {
		prefix = string(event.Type)
	}

	label := event.ResourceName
	if label == "" {
		label = event.ResourceID
	}
	title := fmt.Sprintf("%s: %s", prefix, label)

	details := make([]detail, 0, len(detailFields))
	for _, f := range detailFields {
		if v := event.DataString(f.key); v != "" {
			details = append(details, detail{Label: f.label, Value: v})
		}
	}

	return templateData{
		Subject:       "[AlertRelay] " + title,
		Title:         title,
		AccentColor:   accentColor(event.Type),
		ResourceLabel: label,
		ResourceType:  string(event.ResourceType),
		ResourceID:    event.ResourceID,
		EventType:     string(event.Type),
		FormattedTime: event.Timestamp.UTC().Format(time.RFC1123),
		RuleName:      rule.Name,
		Details:       details,
	}
}

func accentColor(t types.EventType) string {
	switch t {
	case types.EventDeviceOffline, types.EventAgentOffline:
		return "#d1242f"
	case types.EventDeviceDegraded, types.EventAgentDegraded:
		return "#bf8700"
	case types.EventDeviceOnline, types.EventAgentOnline:
		return "#1a7f37"
	default:
		return "#0969da"
	}
}
