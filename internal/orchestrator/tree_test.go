package orchestrator

import (
	"reflect"
	"testing"
)

func TestExecutionTreeAddAndChildren(t *testing.T) {
	tree := NewExecutionTree()
	tree.Add("root", "")
	tree.Add("c1", "root")
	tree.Add("c2", "root")
	tree.Add("gc1", "c1")

	if got := tree.Children("root"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Errorf("Children(root) = %v", got)
	}
	if got := tree.Parent("gc1"); got != "c1" {
		t.Errorf("Parent(gc1) = %q, want c1", got)
	}
	if got := tree.Parent("root"); got != "" {
		t.Errorf("Parent(root) = %q, want empty", got)
	}
}

func TestExecutionTreeDescendants(t *testing.T) {
	tree := NewExecutionTree()
	tree.Add("c1", "root")
	tree.Add("c2", "root")
	tree.Add("gc1", "c1")

	got := tree.Descendants("root")
	if !reflect.DeepEqual(got, []string{"c1", "c2", "gc1"}) {
		t.Errorf("Descendants(root) = %v", got)
	}
}

func TestExecutionTreeRemove(t *testing.T) {
	tree := NewExecutionTree()
	tree.Add("c1", "root")
	tree.Add("c2", "root")

	tree.Remove("c1")
	if got := tree.Children("root"); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Errorf("Children(root) after remove = %v", got)
	}

	// Removing an unknown task is a no-op.
	tree.Remove("c1")
	tree.Remove("nope")
}
