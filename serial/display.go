package serial

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xlab/treeprint"

	"github.com/exherbo-go/cave"
)

// WritePlanTree renders lists' taken jobs as a dependency tree: one
// branch per job, children linked by the runtime/build arrows that point
// at it.
func WritePlanTree(w io.Writer, lists *cave.ResolverLists) error {
	root := treeprint.New()
	root.SetValue("plan")

	branches := make(map[cave.JobId]treeprint.Tree, len(lists.Taken))
	hasParent := make(map[cave.JobId]bool)

	for _, id := range lists.Taken {
		job := lists.Jobs[id]
		if len(job.Arrows) > 0 {
			hasParent[id] = true
		}
	}

	var addBranch func(parent treeprint.Tree, id cave.JobId) treeprint.Tree
	addBranch = func(parent treeprint.Tree, id cave.JobId) treeprint.Tree {
		if b, ok := branches[id]; ok {
			return b
		}
		job := lists.Jobs[id]
		b := parent.AddBranch(job.String())
		branches[id] = b
		return b
	}

	for _, id := range lists.Taken {
		if !hasParent[id] {
			addBranch(root, id)
		}
	}
	for _, id := range lists.Taken {
		job := lists.Jobs[id]
		for _, a := range job.Arrows {
			parent := addBranch(root, a.From)
			addBranch(parent, id)
		}
	}

	_, err := io.WriteString(w, root.String())
	return err
}

// WriteUnmetReport renders every DecisionUnableToMake resolution's
// unsuitable-candidate detail as a table: one row per candidate, with
// the resolvent, the candidate, and its rejection reason (a mask reason or
// "unmet constraint"); the failed constraint itself is not shown (see
// WriteUnmetConstraints).
func WriteUnmetReport(w io.Writer, lists *cave.ResolverLists) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"RESOLVENT", "CANDIDATE", "REASON"})
	for _, res := range lists.All {
		if res.Decision.Kind != cave.DecisionUnableToMake {
			continue
		}
		if len(res.Decision.Unsuitable) == 0 {
			t.AppendRow(table.Row{res.Resolvent.String(), "-", "no candidate found"})
			continue
		}
		for _, u := range res.Decision.Unsuitable {
			candidate := "-"
			if u.ID != nil {
				candidate = u.ID.String()
			}
			t.AppendRow(table.Row{res.Resolvent.String(), candidate, u.Reason})
		}
	}
	t.AppendSeparator()
	t.Render()
}

// WriteUnmetConstraints is a plain-text fallback listing every unmet
// constraint detail recorded on a DecisionUnableToMake resolution, for
// contexts where a full table (WriteUnmetReport) is not wanted.
func WriteUnmetConstraints(w io.Writer, lists *cave.ResolverLists) {
	for _, res := range lists.All {
		if res.Decision.Kind != cave.DecisionUnableToMake {
			continue
		}
		for _, u := range res.Decision.AllUnmet {
			fmt.Fprintf(w, "%s: constraint %s unmet: %s\n", res.Resolvent, u.Constraint, u.Reason)
		}
	}
}
