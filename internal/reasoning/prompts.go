// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import (
	"fmt"
	"strings"

	"github.com/jeranaias/thinkchat/internal/cloud"
)

// Phase names one step of the pipeline.
type Phase string

const (
	PhaseGather    Phase = "gather"
	PhaseAnalyze   Phase = "analyze"
	PhaseSolve     Phase = "solve"
	PhaseReview    Phase = "review"
	PhaseStep      Phase = "step"
	PhaseCritique  Phase = "critique"
	PhaseCorrect   Phase = "correct"
	PhaseSummarize Phase = "summarize"
)

var phaseTasks = map[Phase]string{
	PhaseGather: `Collect what is needed to answer the request. List the facts, constraints, assumptions and open questions that matter. Do not answer yet.`,

	PhaseAnalyze: `Analyze the gathered material. Break the request into parts, identify the approach for each, and note trade-offs or risks. Do not write the final answer yet.`,

	PhaseSolve: `Write a complete solution to the request using the work so far. Be concrete and check each part of the request is covered.`,

	PhaseReview: `Review the most recent solution strictly. Start your reply with exactly one of:
ACCEPTABLE: <one line on why it is good enough>
UNACCEPTABLE: <specific problems that must be fixed>
Judge correctness and completeness only, not style.`,

	PhaseStep: `Take the next single reasoning step toward answering the request. Build on the previous steps and do not repeat them.
If after this step the reasoning is finished and ready to summarize, end your reply with the exact line:
` + CompletionMarker,

	PhaseCritique: `Critique the most recent reasoning step. Check it for errors, unsupported claims and gaps. End with exactly one line:
Critique Result: Acceptable
or
Critique Result: Flawed`,

	PhaseCorrect: `Correct the most recent reasoning step using the critique. Write only the corrected step.`,

	PhaseSummarize: `Write the final answer for the user based on all the work so far. Do not mention the phases or the review process. Answer directly and completely.`,
}

// PhaseResult is the output of one phase call.
type PhaseResult struct {
	Phase   Phase
	Attempt int
	Text    string
	Verdict *Verdict
}

type phaseInput struct {
	phase    Phase
	attempt  int
	req      Request
	work     []PhaseResult
	feedback string
}

// phaseMessages builds the outgoing list for one phase: a system instruction
// carrying the task, the original request and the transcript, followed by the
// conversation history and the user prompt.
func phaseMessages(in phaseInput) []cloud.ChatMessage {
	var sb strings.Builder

	if in.req.System != "" {
		sb.WriteString(in.req.System)
		sb.WriteString("\n\n")
	}

	header := strings.ToUpper(string(in.phase))
	if in.attempt > 1 {
		header = fmt.Sprintf("%s (attempt %d)", header, in.attempt)
	}
	fmt.Fprintf(&sb, "You are in the %s phase of a multi-step reasoning process.\n\n", header)
	sb.WriteString(phaseTasks[in.phase])

	if in.feedback != "" {
		sb.WriteString("\n\nFeedback on the previous attempt, address every point:\n")
		sb.WriteString(in.feedback)
	}

	sb.WriteString("\n\nOriginal request:\n")
	sb.WriteString(in.req.Prompt)

	if transcript := renderTranscript(in.work); transcript != "" {
		sb.WriteString("\n\nWork so far:\n")
		sb.WriteString(transcript)
	}

	msgs := make([]cloud.ChatMessage, 0, len(in.req.History)+2)
	msgs = append(msgs, cloud.NewSystemMessage(sb.String()))
	msgs = append(msgs, in.req.History...)
	msgs = append(msgs, cloud.NewUserMessage(in.req.Prompt))
	return msgs
}

func renderTranscript(work []PhaseResult) string {
	var sb strings.Builder
	for i, r := range work {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(strings.ToUpper(string(r.Phase)))
		if r.Attempt > 1 {
			fmt.Fprintf(&sb, " %d", r.Attempt)
		}
		sb.WriteString("\n")
		sb.WriteString(r.Text)
	}
	return sb.String()
}
