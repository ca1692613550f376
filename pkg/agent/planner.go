package agent

import (
	"context"
	"fmt"
	"log/slog"

	"kollektiv/pkg/handler"
	"kollektiv/pkg/llm"
	"kollektiv/pkg/tree"
)

// NodeSpec is one node proposed by the backend.
type NodeSpec struct {
	Name        string `json:"name" jsonschema:"Short name of the task."`
	Description string `json:"description" jsonschema:"Concise description of the task."`
	Priority    int    `json:"priority" jsonschema:"Execution order among siblings, starting at 1."`
}

// NodeList is a batch of sibling nodes.
type NodeList struct {
	Nodes []NodeSpec `json:"nodes" jsonschema:"The nodes in execution order."`
}

var (
	nodeFormat     = handler.MustFormat[NodeSpec]()
	nodeListFormat = handler.MustFormat[NodeList]()
)

const plannerPriming = "You are an AI assistant expertly skilled in TASK DECOMPOSITION and CREATING HIERARCHICAL OUTLINES.\n" +
	"Your primary function is to break down large or complex goals into smaller, manageable and ultimately actionable steps, structured as a tree of nodes.\n" +
	"Be METHODICAL and SYSTEMATIC. Keep descriptions CONCISE. Ensure logical consistency with the parent node and the overall tree."

const rootRequest = "CREATE the single ROOT NODE for the task decomposition tree based on the goal provided.\n" +
	"This root node MUST represent the ENTIRE goal.\n\n" +
	"RULE 1: The description must be a COMPLETE summary of the overall goal.\n" +
	"RULE 2: Someone with no prior knowledge must understand what the task is and why it is being done.\n" +
	"RULE 3: DO NOT include any sub-tasks or breakdown in the root description."

const mainTasksRequest = "You have created the root node:\n```json\n%s\n```\n\n" +
	"List the MAIN, FIRST-LEVEL steps needed to achieve this goal. They become the direct children of the root.\n\n" +
	"RULE 1: Each task is a distinct, stand-alone part of the goal.\n" +
	"RULE 2: Tasks do not overlap.\n" +
	"RULE 3: All tasks share the same high level of detail.\n" +
	"RULE 4: DO NOT break the tasks down yet.\n" +
	"RULE 5: Order the tasks in the sequence they would be performed."

const breakdownRequest = "Here is the task decomposition tree built so far:\n```json\n%s\n```\n\n" +
	"Break down THIS node into its immediate sub-tasks:\n```json\n%s\n```\n\n" +
	"RULE 1: Each child is a direct step required to complete this node.\n" +
	"RULE 2: Children are distinct and do not duplicate tasks present elsewhere in the tree.\n" +
	"RULE 3: Children share one level of detail, the next step down from the parent.\n" +
	"RULE 4: Order the children in the most logical sequence."

// Planner decomposes a goal into a two-level task tree.
type Planner struct {
	engine *Engine
}

func NewPlanner(engine *Engine) *Planner {
	return &Planner{engine: engine}
}

// Plan builds the root from goal, its first-level children and one further
// level under each child. The returned id is the root.
func (p *Planner) Plan(ctx context.Context, goal string) (*tree.Tree, int, error) {
	base := llm.NewHistory(
		llm.NewSystemMessage(plannerPriming),
		llm.NewUserMessage("This is my goal:\n"+goal),
	)

	// root
	history := base.Clone()
	reply, err := p.engine.Chat(ctx, Request{Message: rootRequest, History: &history, Format: nodeFormat, ContextWindow: 2048})
	if err != nil {
		return nil, 0, fmt.Errorf("plan root: %w", err)
	}
	spec := reply.Value.(NodeSpec)

	t := tree.New()
	root := t.AddRoot(spec.Name, spec.Description, spec.Priority)

	// first level
	rootJSON, err := p.snapshotJSON(t, root)
	if err != nil {
		return nil, 0, err
	}
	reply, err = p.engine.Chat(ctx, Request{
		Message:       fmt.Sprintf(mainTasksRequest, rootJSON),
		History:       &history,
		Format:        nodeListFormat,
		ContextWindow: 4096,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("plan main tasks: %w", err)
	}
	mains, err := addChildren(t, root, reply.Value.(NodeList))
	if err != nil {
		return nil, 0, err
	}
	slog.InfoContext(ctx, "Main tasks planned", "count", len(mains))

	// breakdown
	for _, id := range mains {
		treeJSON, err := p.snapshotJSON(t, root)
		if err != nil {
			return nil, 0, err
		}
		nodeJSON, err := p.snapshotJSON(t, id)
		if err != nil {
			return nil, 0, err
		}

		branch := base.Clone()
		reply, err := p.engine.Chat(ctx, Request{
			Message:       fmt.Sprintf(breakdownRequest, treeJSON, nodeJSON),
			History:       &branch,
			Format:        nodeListFormat,
			ContextWindow: 16384,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("plan breakdown of node %d: %w", id, err)
		}
		if _, err := addChildren(t, id, reply.Value.(NodeList)); err != nil {
			return nil, 0, err
		}
	}

	return t, root, nil
}

func addChildren(t *tree.Tree, parent int, list NodeList) ([]int, error) {
	ids := make([]int, 0, len(list.Nodes))
	for _, n := range list.Nodes {
		id, err := t.AddChild(parent, n.Name, n.Description, n.Priority)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Planner) snapshotJSON(t *tree.Tree, id int) (string, error) {
	snap, err := t.Snapshot(id)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode tree: %w", err)
	}
	return string(data), nil
}
