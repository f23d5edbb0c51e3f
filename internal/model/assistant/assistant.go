package assistant

import "strings"

// RoutingKind decides which backend path serves an assistant's messages.
type RoutingKind string

const (
	// RoutingInternal routes messages to the backend chat API.
	RoutingInternal RoutingKind = "internal"
	// RoutingWebhook routes messages to an external workflow webhook.
	RoutingWebhook RoutingKind = "webhook"
)

// placeholderPrefix marks webhook URLs that were never configured.
const placeholderPrefix = "PLACEHOLDER"

// Assistant is a named conversational target exposed to the console.
type Assistant struct {
	Key          string      `json:"key" yaml:"key"`
	DisplayName  string      `json:"displayName" yaml:"displayName"`
	Description  string      `json:"description,omitempty" yaml:"description"`
	RoutingKind  RoutingKind `json:"routingKind" yaml:"routingKind"`
	IsFirstReply bool        `json:"isFirstReply" yaml:"isFirstReply"`
	WebhookURL   string      `json:"-" yaml:"webhookUrl"`
	Country      string      `json:"country,omitempty" yaml:"country"`
	Guided       bool        `json:"guided,omitempty" yaml:"guided"`
	SystemPrompt string      `json:"-" yaml:"systemPrompt"`
	Enabled      *bool       `json:"-" yaml:"enabled"`
}

// IsWebhook reports whether the assistant is served by an external workflow.
func (a Assistant) IsWebhook() bool {
	return a.RoutingKind == RoutingWebhook
}

// IsEnabled treats a missing flag as enabled.
func (a Assistant) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// WebhookConfigured reports whether WebhookURL points at a real endpoint.
func (a Assistant) WebhookConfigured() bool {
	url := strings.TrimSpace(a.WebhookURL)
	return url != "" && !strings.HasPrefix(url, placeholderPrefix)
}

// WebhookCountry returns the country code sent with webhook payloads.
func (a Assistant) WebhookCountry() string {
	if a.Country != "" {
		return a.Country
	}
	if a.Key == "sg-doctor" {
		return "SG"
	}
	return "MY"
}

// Seed provides the assistants shipped with the console.
func Seed() []Assistant {
	return []Assistant{
		{
			Key:          "ulink-general",
			DisplayName:  "Ulink Assistant",
			Description:  "General enquiries handled by the Ulink chat backend",
			RoutingKind:  RoutingInternal,
			SystemPrompt: "You are the Ulink assistant. Answer insurance and medical-claim questions clearly and briefly.",
		},
		{
			Key:          "document-review",
			DisplayName:  "Document Review",
			Description:  "Upload claim documents for review",
			RoutingKind:  RoutingInternal,
			IsFirstReply: true,
			SystemPrompt: "You review uploaded claim documents. Greet the user and ask them to upload their documents when they say hi.",
		},
		{
			Key:         "singlife-call",
			DisplayName: "Singlife Call Assistant",
			Description: "Singlife policy enquiry and support assistant",
			RoutingKind: RoutingWebhook,
			WebhookURL:  "${N8N_WEBHOOK_SINGLIFE:-PLACEHOLDER_WEBHOOK_URL_1}",
		},
		{
			Key:         "sg-doctor",
			DisplayName: "SG Doctor Recommendation",
			Description: "Singapore doctor recommendation assistant",
			RoutingKind: RoutingWebhook,
			WebhookURL:  "${N8N_WEBHOOK_SG_DOCTOR:-PLACEHOLDER_WEBHOOK_URL_2}",
			Country:     "SG",
			Guided:      true,
		},
		{
			Key:         "my-doctor",
			DisplayName: "MY Doctor Recommendation",
			Description: "Malaysia doctor recommendation assistant",
			RoutingKind: RoutingWebhook,
			WebhookURL:  "${N8N_WEBHOOK_MY_DOCTOR:-PLACEHOLDER_WEBHOOK_URL_3}",
			Country:     "MY",
			Guided:      true,
		},
		{
			Key:         "fm-clinic",
			DisplayName: "FM Clinic",
			Description: "FM Clinic assistant",
			RoutingKind: RoutingWebhook,
			WebhookURL:  "${N8N_WEBHOOK_FM_CLINIC:-PLACEHOLDER_WEBHOOK_URL_4}",
		},
		{
			Key:         "allianz-cso",
			DisplayName: "Allianz CSO",
			Description: "Allianz customer service assistant",
			RoutingKind: RoutingWebhook,
			WebhookURL:  "${N8N_WEBHOOK_ALLIANZ:-PLACEHOLDER_WEBHOOK_URL_5}",
		},
	}
}
