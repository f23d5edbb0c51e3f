package assistant

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

type registryFile struct {
	Assistants []Assistant `yaml:"assistants"`
}

// LoadFile reads a YAML registry. Each entry must carry a unique key and a
// known routing kind; webhook assistants default to the webhook kind when a
// webhookUrl is present.
func LoadFile(path string) ([]Assistant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading assistants file")
	}
	return Parse(data)
}

// Parse decodes registry YAML and validates the entries.
func Parse(data []byte) ([]Assistant, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing assistants yaml")
	}

	seen := make(map[string]struct{}, len(file.Assistants))
	items := make([]Assistant, 0, len(file.Assistants))
	for i, item := range file.Assistants {
		item.Key = strings.TrimSpace(item.Key)
		if item.Key == "" {
			return nil, fmt.Errorf("assistant #%d: key is required", i+1)
		}
		if _, dup := seen[item.Key]; dup {
			return nil, fmt.Errorf("assistant %q: duplicate key", item.Key)
		}
		seen[item.Key] = struct{}{}

		if item.RoutingKind == "" {
			item.RoutingKind = RoutingInternal
			if item.WebhookURL != "" {
				item.RoutingKind = RoutingWebhook
			}
		}
		switch item.RoutingKind {
		case RoutingInternal, RoutingWebhook:
		default:
			return nil, fmt.Errorf("assistant %q: unknown routingKind %q", item.Key, item.RoutingKind)
		}

		if item.DisplayName == "" {
			item.DisplayName = item.Key
		}
		items = append(items, item)
	}
	return items, nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default} references.
func expandEnv(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(parts[1]); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return parts[2]
	})
}
