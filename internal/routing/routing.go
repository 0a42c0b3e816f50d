// Package routing holds the operator route table: per-tenant topic
// filters mapped to delivery destinations.
package routing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andrewcho-dev/opsconductor-pulse-sub011/internal/envelope"
)

// ErrUnknownDestination reports a route whose destination type is not
// one of the supported kinds.
var ErrUnknownDestination = errors.New("unknown destination type")

// DestinationType discriminates the destination union.
type DestinationType string

const (
	DestWebhook   DestinationType = "webhook"
	DestRepublish DestinationType = "republish"
	DestStorage   DestinationType = "storage"
)

// WebhookConfig targets a signed HTTP call.
type WebhookConfig struct {
	URL    string `yaml:"url" json:"url"`
	Secret string `yaml:"secret" json:"secret"`
}

// RepublishConfig targets an outbound broker publish. The template may
// reference {tenant_id} and {device_id}.
type RepublishConfig struct {
	TopicTemplate string `yaml:"topic_template" json:"topic_template"`
}

// Destination is a tagged union over the supported destination kinds.
// Exactly the field matching Type is populated.
type Destination struct {
	Type      DestinationType  `json:"type"`
	Webhook   *WebhookConfig   `json:"webhook,omitempty"`
	Republish *RepublishConfig `json:"republish,omitempty"`
}

// UnmarshalYAML decodes the union by its type tag. An unrecognized tag
// is a hard error so a typo cannot silently drop a route.
func (d *Destination) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type DestinationType `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}

	switch head.Type {
	case DestWebhook:
		var body struct {
			Webhook WebhookConfig `yaml:"webhook"`
		}
		if err := node.Decode(&body); err != nil {
			return err
		}
		if body.Webhook.URL == "" {
			return errors.New("webhook destination requires a url")
		}
		d.Type = DestWebhook
		d.Webhook = &body.Webhook
	case DestRepublish:
		var body struct {
			Republish RepublishConfig `yaml:"republish"`
		}
		if err := node.Decode(&body); err != nil {
			return err
		}
		if body.Republish.TopicTemplate == "" {
			return errors.New("republish destination requires a topic_template")
		}
		d.Type = DestRepublish
		d.Republish = &body.Republish
	case DestStorage:
		d.Type = DestStorage
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDestination, head.Type)
	}
	return nil
}

// Route binds one tenant-scoped topic filter to a destination.
type Route struct {
	ID          string      `yaml:"id" json:"id"`
	TenantID    string      `yaml:"tenant_id" json:"tenant_id"`
	TopicFilter string      `yaml:"topic_filter" json:"topic_filter"`
	Destination Destination `yaml:"destination" json:"destination"`
}

// Table is an immutable set of routes, loaded once at startup.
type Table struct {
	routes []Route
}

type routesFile struct {
	Routes []Route `yaml:"routes"`
}

// Load reads and validates the route table from a YAML file.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML route table.
func Parse(raw []byte) (*Table, error) {
	var file routesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	seen := make(map[string]bool, len(file.Routes))
	for i, route := range file.Routes {
		if route.ID == "" {
			return nil, fmt.Errorf("route %d: missing id", i)
		}
		if seen[route.ID] {
			return nil, fmt.Errorf("route %q: duplicate id", route.ID)
		}
		seen[route.ID] = true
		if route.TenantID == "" {
			return nil, fmt.Errorf("route %q: missing tenant_id", route.ID)
		}
		if err := validateFilter(route.TopicFilter); err != nil {
			return nil, fmt.Errorf("route %q: %w", route.ID, err)
		}
	}
	return &Table{routes: file.Routes}, nil
}

// Len reports the number of loaded routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Match returns every route whose tenant and topic filter match the
// envelope. The slice is nil when nothing matches.
func (t *Table) Match(env *envelope.Envelope) []Route {
	var matched []Route
	for _, route := range t.routes {
		if route.TenantID != env.TenantID {
			continue
		}
		if MatchTopic(route.TopicFilter, env.Topic) {
			matched = append(matched, route)
		}
	}
	return matched
}

// validateFilter rejects empty filters and a multi-level wildcard
// anywhere but the final level.
func validateFilter(filter string) error {
	if filter == "" {
		return errors.New("missing topic_filter")
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == "#" && i != len(levels)-1 {
			return errors.New("multi-level wildcard must be the last filter level")
		}
	}
	return nil
}

// MatchTopic matches a topic against a filter with single-level (+) and
// multi-level (#) wildcards.
func MatchTopic(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
