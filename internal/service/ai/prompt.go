package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
)

// maxAttachmentChars caps how much of one text attachment reaches the model.
const maxAttachmentChars = 12000

// Attachment is a file uploaded alongside a chat message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// PromptTemplate defines the structure for assistant prompts
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// PromptManager manages prompt templates for the built-in assistants
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a new prompt manager with default templates
func NewPromptManager() *PromptManager {
	manager := &PromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the prompt template for a given assistant
func (pm *PromptManager) GetPromptTemplate(key string) (*PromptTemplate, error) {
	template, exists := pm.templates[key]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for assistant: %s", key)
	}
	return template, nil
}

// BuildSystemPrompt combines the assistant's configured prompt, the built-in
// template, and any attached documents.
func (pm *PromptManager) BuildSystemPrompt(a assistant.Assistant, attachments []Attachment) string {
	var b strings.Builder

	base := strings.TrimSpace(a.SystemPrompt)
	template, err := pm.GetPromptTemplate(a.Key)
	switch {
	case base != "":
		b.WriteString(base)
	case err == nil:
		b.WriteString(template.SystemPrompt)
	default:
		fmt.Fprintf(&b, "You are %s, an assistant for Ulink insurance operations staff.", a.DisplayName)
		if a.Description != "" {
			fmt.Fprintf(&b, " %s", a.Description)
		}
	}

	if err == nil {
		writeList(&b, "Guidance", template.Hints)
		writeList(&b, "Rules", template.Rules)
	}

	if len(attachments) > 0 {
		b.WriteString("\n\nThe user attached the following documents:")
		for _, att := range attachments {
			b.WriteString("\n\n")
			b.WriteString(describeAttachment(att))
		}
	}
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:\n- %s", heading, strings.Join(items, "\n- "))
}

func describeAttachment(att Attachment) string {
	header := fmt.Sprintf("--- %s (%s, %d bytes) ---", att.Name, att.ContentType, len(att.Data))
	if !isTextual(att) {
		return header + "\n[binary content not shown]"
	}

	text := string(att.Data)
	if utf8.RuneCountInString(text) > maxAttachmentChars {
		text = string([]rune(text)[:maxAttachmentChars]) + "\n[truncated]"
	}
	return header + "\n" + text
}

func isTextual(att Attachment) bool {
	ct := strings.ToLower(att.ContentType)
	if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") || strings.Contains(ct, "csv") || strings.Contains(ct, "xml") {
		return utf8.Valid(att.Data)
	}
	if ct == "" || ct == "application/octet-stream" {
		name := strings.ToLower(att.Name)
		for _, ext := range []string{".txt", ".md", ".csv", ".json"} {
			if strings.HasSuffix(name, ext) {
				return utf8.Valid(att.Data)
			}
		}
	}
	return false
}

// loadDefaultTemplates loads the prompt templates for the built-in assistants
func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates["ulink-general"] = &PromptTemplate{
		SystemPrompt: "You are the Ulink assistant. You help insurance operations staff answer policy, claims, and member-servicing questions clearly and accurately.",
		Hints: []string{
			"Answer in short paragraphs or bullet points",
			"Say so when a question needs a policy document you have not seen",
		},
		Rules: []string{
			"Never invent policy numbers, amounts, or coverage terms",
			"Do not give medical diagnoses",
		},
	}

	pm.templates["document-review"] = &PromptTemplate{
		SystemPrompt: "You review documents uploaded by Ulink staff, such as policy schedules, medical reports, and invoices, and summarise what matters for a claim or underwriting decision.",
		Hints: []string{
			"Start by listing the documents you received",
			"Quote exact figures and dates from the documents",
			"Flag missing pages, unreadable sections, or inconsistencies",
		},
		Rules: []string{
			"If no documents are attached, ask the user to upload them",
			"Keep personal data in your answer to what the question needs",
		},
	}
}
