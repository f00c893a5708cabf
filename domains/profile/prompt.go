package profile

import (
	"fmt"
	"strings"
)

func renderSystemPrompt(p *BotProfile) string {
	var b strings.Builder

	b.WriteString(p.Identity)

	if p.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(p.Description)
	}
	if p.CommunicationStyle != "" {
		fmt.Fprintf(&b, "\n\nCommunication style: %s.", p.CommunicationStyle)
	}
	if p.PrimaryLanguage != "" {
		fmt.Fprintf(&b, "\nPrimary language: %s.", p.PrimaryLanguage)
		if p.SecondaryLanguage != "" {
			fmt.Fprintf(&b, " Secondary language: %s.", p.SecondaryLanguage)
		}
	}
	if len(p.LanguageRules) > 0 {
		b.WriteString("\n\nLanguage rules:")
		for _, r := range p.LanguageRules {
			fmt.Fprintf(&b, "\n- %s", r)
		}
	}
	if len(p.KnowledgeBase) > 0 {
		b.WriteString("\n\nKnowledge base:")
		for _, k := range p.KnowledgeBase {
			fmt.Fprintf(&b, "\n## %s\n%s", k.Topic, k.Content)
		}
	}
	if len(p.InitialInteraction) > 0 {
		b.WriteString("\n\nOpening lines:")
		for _, l := range p.InitialInteraction {
			fmt.Fprintf(&b, "\n- %s", l)
		}
	}
	if len(p.InteractionGuidelines) > 0 {
		b.WriteString("\n\nInteraction guidelines:")
		for _, g := range p.InteractionGuidelines {
			fmt.Fprintf(&b, "\n- %s", g)
		}
	}
	if len(p.ExampleResponses) > 0 {
		b.WriteString("\n\nExample responses:")
		for _, e := range p.ExampleResponses {
			fmt.Fprintf(&b, "\nScenario: %s\nResponse: %s", e.Scenario, e.Response)
		}
	}
	if len(p.EdgeCases) > 0 {
		b.WriteString("\n\nEdge cases:")
		for _, e := range p.EdgeCases {
			fmt.Fprintf(&b, "\nCase: %s -> %s", e.Case, e.Action)
		}
	}
	if p.ToolConfig != nil && p.ToolConfig.Name != "" {
		fmt.Fprintf(&b, "\n\nTooling: %s. %s", p.ToolConfig.Name, p.ToolConfig.Description)
		for _, purpose := range p.ToolConfig.Purposes {
			fmt.Fprintf(&b, "\n- %s", purpose)
		}
	}
	if p.PrivacyGuidelines != "" {
		b.WriteString("\n\nPrivacy guidelines:\n")
		b.WriteString(p.PrivacyGuidelines)
	}

	return b.String()
}
