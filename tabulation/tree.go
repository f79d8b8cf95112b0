/*
tree.go - Parent/child maintenance over tally sheet instances

PURPOSE:
  A tally sheet may have multiple declared children and multiple declared
  parents: the relation is a DAG, not strictly a tree. Edges drive upward
  aggregation, so a cyclic edge would make derivation double count or never
  terminate. AddChild therefore refuses any edge that would close a cycle,
  a guard layered on top of the idempotent edge insert.

SEE ALSO:
  - aggregate.go: Walks Children() when computing derived rows
*/
package tabulation

import "context"

// AddChild declares child as an aggregation input of parent. Idempotent: an
// existing (parent, child) edge is left as-is and no duplicate is created,
// so a child's contribution is counted exactly once.
func (e *Engine) AddChild(ctx context.Context, parent, child TallySheetID) error {
	return e.Store.WithTx(ctx, func(store Store) error {
		if _, err := store.TallySheet(ctx, parent); err != nil {
			return err
		}
		if _, err := store.TallySheet(ctx, child); err != nil {
			return err
		}

		exists, err := store.HasChild(ctx, parent, child)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		cyclic, err := reachable(ctx, store, child, parent)
		if err != nil {
			return err
		}
		if cyclic {
			return &WorkflowError{TallySheetID: parent, Transition: "link", Reason: "edge would create a cycle in the tally sheet graph"}
		}

		return store.AddChild(ctx, parent, child)
	})
}

// AddParent is the inverse convenience of AddChild.
func (e *Engine) AddParent(ctx context.Context, child, parent TallySheetID) error {
	return e.AddChild(ctx, parent, child)
}

// Children returns the declared child sheet ids of parent.
func (e *Engine) Children(ctx context.Context, parent TallySheetID) ([]TallySheetID, error) {
	return e.Store.Children(ctx, parent)
}

// reachable reports whether target can be reached from start by following
// child edges. BFS over the stored adjacency.
func reachable(ctx context.Context, store Store, start, target TallySheetID) (bool, error) {
	if start == target {
		return true, nil
	}
	seen := map[TallySheetID]bool{start: true}
	queue := []TallySheetID{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		children, err := store.Children(ctx, current)
		if err != nil {
			return false, err
		}
		for _, c := range children {
			if c == target {
				return true, nil
			}
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return false, nil
}
