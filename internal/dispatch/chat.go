package dispatch

import (
	"context"
	"fmt"

	"github.com/smilemakc/docengine/pkg/docmodel"
)

// chatExecutable drives a Chat node: if it has no messages yet and its
// embedded prompt block carries a Query, that query seeds the first user
// message (grounded on chat.rs's query-to-first-message synthesis), then one
// ChatMessage is appended per ModelIDs entry (each holding Replicates
// candidates when Replicates > 1); no ChatMessageGroup node is created.
// Generating the actual model text is the job of the
// external model collaborator this engine hands the message off to; the
// dispatcher's role ends at producing the pending assistant turns.
type chatExecutable struct{}

func (chatExecutable) Execute(ctx context.Context, ec ExecContext, n *docmodel.Node) ([]docmodel.Patch, error) {
	var patches []docmodel.Patch

	if len(n.Messages) == 0 && n.Query != "" {
		seedNode := &docmodel.Node{
			NodeID:              ec.Graph.Minter().Mint(docmodel.NodeCodeExpression),
			Type:                docmodel.NodeCodeExpression,
			ProgrammingLanguage: "expr",
			Code:                fmt.Sprintf("%q", seedMessageText(n)),
		}
		userMsg := &docmodel.ChatMessage{
			NodeID:          ec.Graph.Minter().Mint(docmodel.NodeChatMessage),
			Role:            "user",
			Content:         []*docmodel.Node{seedNode},
			ExecutionStatus: docmodel.StatusSucceeded,
		}
		n.Messages = append(n.Messages, userMsg)
		patches = append(patches, docmodel.Patch{
			NodeID: n.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("messages")},
			Ops:    []docmodel.PatchOp{docmodel.PushOp(userMsg)},
		})
	}

	models := n.ModelIDs
	if len(models) == 0 {
		models = []string{"default"}
	}
	replicates := n.Replicates
	if replicates < 1 {
		replicates = 1
	}

	for range models {
		assistant := &docmodel.ChatMessage{
			NodeID:          ec.Graph.Minter().Mint(docmodel.NodeChatMessage),
			Role:            "model",
			ExecutionStatus: docmodel.StatusScheduled,
		}
		if replicates > 1 {
			for i := 0; i < replicates; i++ {
				assistant.Candidates = append(assistant.Candidates, &docmodel.ChatMessage{
					NodeID:          ec.Graph.Minter().Mint(docmodel.NodeChatMessage),
					Role:            "model",
					ExecutionStatus: docmodel.StatusScheduled,
				})
			}
		}
		n.Messages = append(n.Messages, assistant)
		patches = append(patches, docmodel.Patch{
			NodeID: n.NodeID,
			Path:   docmodel.PatchPath{docmodel.Property("messages")},
			Ops:    []docmodel.PatchOp{docmodel.PushOp(assistant)},
		})
	}

	return patches, nil
}

func seedMessageText(n *docmodel.Node) string {
	parts := make([]string, 0, 4)
	if n.InstructionType != "" {
		parts = append(parts, n.InstructionType)
	}
	if n.RelativePosition != "" {
		parts = append(parts, n.RelativePosition)
	}
	parts = append(parts, n.Query)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

func (chatExecutable) Interrupt(ctx context.Context, n *docmodel.Node) error { return nil }
