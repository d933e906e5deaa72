package routing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueueSettings is the resolved routing triple for one event type. Job is
// empty when no named job override exists for the type.
type QueueSettings struct {
	Connection string
	Queue      string
	Job        string
}

// Override is a per-event-type routing override. Fields left empty fall back
// to the global defaults at resolve time.
type Override struct {
	Connection string `json:"connection,omitempty"`
	Queue      string `json:"queue,omitempty"`
	Job        string `json:"job,omitempty"`
}

// Config is the routing table, parsed and validated once at startup.
// Override maps are keyed by event type with "." replaced by "_"
// (e.g. "payment_intent_succeeded").
type Config struct {
	DefaultConnection string              `json:"default_connection"`
	DefaultQueue      string              `json:"default_queue"`
	Connections       map[string][]string `json:"connections"` // connection name -> kafka brokers
	Account           map[string]Override `json:"account"`     // platform-scoped overrides
	Connect           map[string]Override `json:"connect"`     // connected-account overrides
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse routing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DefaultConnection) == "" {
		return fmt.Errorf("routing config: default_connection is required")
	}
	if strings.TrimSpace(c.DefaultQueue) == "" {
		return fmt.Errorf("routing config: default_queue is required")
	}
	if _, ok := c.Connections[c.DefaultConnection]; !ok {
		return fmt.Errorf("routing config: default_connection %q has no brokers configured", c.DefaultConnection)
	}
	for name, brokers := range c.Connections {
		if len(brokers) == 0 {
			return fmt.Errorf("routing config: connection %q has no brokers", name)
		}
	}
	for scope, overrides := range map[string]map[string]Override{"account": c.Account, "connect": c.Connect} {
		for key, ov := range overrides {
			if ov.Connection == "" {
				continue
			}
			if _, ok := c.Connections[ov.Connection]; !ok {
				return fmt.Errorf("routing config: %s.%s references unknown connection %q", scope, key, ov.Connection)
			}
		}
	}
	return nil
}

// Resolve returns the queue settings for one (eventType, scope) pair.
// Missing overrides are not an error: each field falls back to the global
// default, and Job stays empty when the type has no named job.
func (c Config) Resolve(eventType string, connectScoped bool) QueueSettings {
	overrides := c.Account
	if connectScoped {
		overrides = c.Connect
	}

	settings := QueueSettings{
		Connection: c.DefaultConnection,
		Queue:      c.DefaultQueue,
	}
	ov, ok := overrides[Key(eventType)]
	if !ok {
		return settings
	}
	if ov.Connection != "" {
		settings.Connection = ov.Connection
	}
	if ov.Queue != "" {
		settings.Queue = ov.Queue
	}
	settings.Job = ov.Job
	return settings
}

// Key converts an event type into its override-map key
// ("payment_intent.succeeded" -> "payment_intent_succeeded").
func Key(eventType string) string {
	return strings.ReplaceAll(eventType, ".", "_")
}

// Brokers returns the broker list for a named connection.
func (c Config) Brokers(connection string) []string {
	return c.Connections[connection]
}

// Queues returns, per connection, the set of queues the routing table can
// send to. Every connection that appears in an override or as the default is
// included; the consumer side subscribes to exactly these.
func (c Config) Queues() map[string][]string {
	seen := map[string]map[string]bool{
		c.DefaultConnection: {c.DefaultQueue: true},
	}
	for _, overrides := range []map[string]Override{c.Account, c.Connect} {
		for _, ov := range overrides {
			conn := ov.Connection
			if conn == "" {
				conn = c.DefaultConnection
			}
			queue := ov.Queue
			if queue == "" {
				queue = c.DefaultQueue
			}
			if seen[conn] == nil {
				seen[conn] = map[string]bool{}
			}
			seen[conn][queue] = true
		}
	}

	out := make(map[string][]string, len(seen))
	for conn, queues := range seen {
		for q := range queues {
			out[conn] = append(out[conn], q)
		}
	}
	return out
}
