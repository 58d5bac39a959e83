// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/thinkchat/internal/model"
	"github.com/jeranaias/thinkchat/internal/reasoning"
)

// =============================================================================
// CONVERSATION EXPORT
// =============================================================================

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// Export renders conv in the named format.
func Export(conv *model.Conversation, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md":
		return []byte(ExportMarkdown(conv)), nil
	case FormatJSON:
		return ExportJSON(conv)
	case FormatYAML, "yml":
		return ExportYAML(conv)
	default:
		return nil, fmt.Errorf("unknown export format %q (want markdown, json or yaml)", format)
	}
}

// ExportMarkdown exports the conversation as Markdown. Reasoning traces are
// folded into a <details> block above the answer.
func ExportMarkdown(conv *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("# " + conv.GetTitle() + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	if conv.Model != "" {
		sb.WriteString("Model: " + conv.Model + "\n\n")
	}
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + "):\n\n")

		trace, answer := reasoning.SplitTrace(msg.Content)
		if msg.Role == model.RoleAssistant && trace != "" {
			sb.WriteString("<details>\n<summary>Reasoning")
			if msg.ReasoningDuration > 0 {
				sb.WriteString(" (" + msg.ReasoningDuration.Round(time.Second).String() + ")")
			}
			sb.WriteString("</summary>\n\n")
			sb.WriteString(strings.TrimSpace(strings.TrimPrefix(trace, reasoning.Preamble)))
			sb.WriteString("\n\n</details>\n\n")
			sb.WriteString(strings.TrimSpace(answer))
		} else {
			sb.WriteString(msg.Content)
		}
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON exports the conversation as pretty-printed JSON, exactly as
// stored.
func ExportJSON(conv *model.Conversation) ([]byte, error) {
	return json.MarshalIndent(conv, "", "  ")
}

type exportDoc struct {
	ID       string          `yaml:"id"`
	Title    string          `yaml:"title"`
	Model    string          `yaml:"model,omitempty"`
	Created  time.Time       `yaml:"created"`
	Updated  time.Time       `yaml:"updated"`
	Messages []exportMessage `yaml:"messages"`
}

type exportMessage struct {
	Role      string    `yaml:"role"`
	Time      time.Time `yaml:"time"`
	Mode      string    `yaml:"mode,omitempty"`
	Reasoning string    `yaml:"reasoning,omitempty"`
	Content   string    `yaml:"content"`
	Error     string    `yaml:"error,omitempty"`
}

// ExportYAML exports the conversation as YAML with reasoning traces split
// from the answers.
func ExportYAML(conv *model.Conversation) ([]byte, error) {
	doc := exportDoc{
		ID:      conv.ID,
		Title:   conv.GetTitle(),
		Model:   conv.Model,
		Created: conv.CreatedAt,
		Updated: conv.LastUpdated,
	}
	for _, msg := range conv.Messages {
		em := exportMessage{
			Role:    msg.Role.String(),
			Time:    msg.Timestamp,
			Mode:    msg.Mode,
			Content: msg.Content,
		}
		if msg.Role == model.RoleAssistant {
			trace, answer := reasoning.SplitTrace(msg.Content)
			em.Reasoning = strings.TrimSpace(strings.TrimPrefix(trace, reasoning.Preamble))
			em.Content = strings.TrimSpace(answer)
			if em.Reasoning == "" {
				em.Reasoning = msg.Reasoning
			}
		}
		if msg.ErrorDetails != nil {
			em.Error = msg.ErrorDetails.Kind + ": " + msg.ErrorDetails.Message
		}
		doc.Messages = append(doc.Messages, em)
	}
	return yaml.Marshal(doc)
}
