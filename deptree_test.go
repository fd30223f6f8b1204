package cave

import "testing"

func mustParseDepTree(t *testing.T, text string) DepNode {
	t.Helper()
	tree, _, err := ParseDepTree(text)
	if err != nil {
		t.Fatalf("ParseDepTree(%q): %v", text, err)
	}
	return tree
}

func TestParseDepTreePlainAtoms(t *testing.T) {
	tree := mustParseDepTree(t, "cat/one cat/two")
	all, ok := tree.(AllOf)
	if !ok || len(all.Children) != 2 {
		t.Fatalf("expected AllOf with 2 children, got %#v", tree)
	}
	p0, ok := all.Children[0].(Package)
	if !ok || p0.Spec.Name.String() != "cat/one" {
		t.Fatalf("first child = %#v", all.Children[0])
	}
}

func TestParseDepTreeAnyOf(t *testing.T) {
	tree := mustParseDepTree(t, "|| ( cat/two cat/three )")
	all := tree.(AllOf)
	any, ok := all.Children[0].(AnyOf)
	if !ok || len(any.Children) != 2 {
		t.Fatalf("expected AnyOf with 2 children, got %#v", all.Children[0])
	}
}

func TestParseDepTreeAnyOfRejectsBlocker(t *testing.T) {
	if _, _, err := ParseDepTree("|| ( cat/two !cat/three )"); err == nil {
		t.Errorf("AnyOf containing a blocker should be rejected")
	}
}

func TestParseDepTreeConditional(t *testing.T) {
	tree := mustParseDepTree(t, "foo? ( cat/one ) !bar? ( cat/two )")
	all := tree.(AllOf)
	if len(all.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(all.Children))
	}
	c0 := all.Children[0].(Conditional)
	if c0.Choice != "foo" || c0.Negated {
		t.Errorf("expected foo? (not negated), got %#v", c0)
	}
	c1 := all.Children[1].(Conditional)
	if c1.Choice != "bar" || !c1.Negated {
		t.Errorf("expected !bar? (negated), got %#v", c1)
	}
}

func TestParseDepTreeLabels(t *testing.T) {
	tree := mustParseDepTree(t, "build: cat/one run: cat/two")
	all := tree.(AllOf)
	if len(all.Children) != 4 {
		t.Fatalf("expected 4 children (2 labels + 2 atoms), got %d", len(all.Children))
	}
	lbl, ok := all.Children[0].(Label)
	if !ok || len(lbl.Kinds) != 1 || lbl.Kinds[0] != LabelBuild {
		t.Fatalf("expected build: label, got %#v", all.Children[0])
	}
}

func TestParseDepTreeCombinedLabel(t *testing.T) {
	tree := mustParseDepTree(t, "build+run: cat/one")
	all := tree.(AllOf)
	lbl := all.Children[0].(Label)
	if len(lbl.Kinds) != 2 {
		t.Fatalf("expected 2 combined labels, got %v", lbl.Kinds)
	}
}

func TestParseDepTreeBangGroupBlocksEveryPackage(t *testing.T) {
	tree, warnings, err := ParseDepTree("! ( cat/one cat/two )")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for the !-group case, got %d", len(warnings))
	}
	all := tree.(AllOf)
	if len(all.Children) != 2 {
		t.Fatalf("expected 2 Block nodes, got %d", len(all.Children))
	}
	for _, c := range all.Children {
		if _, ok := c.(Block); !ok {
			t.Errorf("expected every child to be a Block, got %#v", c)
		}
	}
}

func TestParseDepTreeBlocker(t *testing.T) {
	tree := mustParseDepTree(t, "!cat/one !!cat/two")
	all := tree.(AllOf)
	b0 := all.Children[0].(Block)
	if b0.Strong {
		t.Errorf("!cat/one should be a weak block")
	}
	b1 := all.Children[1].(Block)
	if !b1.Strong {
		t.Errorf("!!cat/two should be a strong block")
	}
}
