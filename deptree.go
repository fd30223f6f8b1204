package cave

import "strings"

// labelTokens maps the dependency-label token spelling (sans trailing ":")
// to the DepLabel(s) it activates. A combined token such as
// "build+run:" activates every named label at once, matching Exherbo's
// EAPI dependency-label syntax (the vocabulary depspec.go's DepLabel
// constants are themselves drawn from).
var labelTokens = map[string]DepLabel{
	"build":            LabelBuild,
	"run":              LabelRun,
	"post":             LabelPost,
	"compiled-against": LabelCompileAgainst,
	"suggestion":       LabelSuggest,
	"recommendation":   LabelRecommend,
	"test":             LabelTest,
	"fetch":            LabelFetch,
	"install":          LabelInstall,
}

// DepTreeWarning records a non-fatal oddity the tree parser accepts
// rather than rejects, such as a "||" group inside a "!"-block.
type DepTreeWarning struct {
	Text string
}

// depTreeParser turns a flat, whitespace-tokenised DEPEND-style string
// into a DepNode tree via plain recursive descent over the token stream.
type depTreeParser struct {
	toks     []string
	pos      int
	Warnings []DepTreeWarning
}

// ParseDepTree parses one full dependency-metadata string (e.g. a DEPEND
// or RDEPEND value) into a DepNode tree. Grammar:
//
//	group      := element*
//	element    := "||" "(" group ")"                      (AnyOf)
//	            | ("!"|"") flag "?" "(" group ")"          (Conditional)
//	            | label-token ":"                          (Label)
//	            | "!" "(" group ")"                         (block-of-group)
//	            | atom                                      (Package | Block)
//
// The whole string parses as an implicit top-level AllOf. Returns any
// DepTreeWarning accumulated (currently only the "!"-wrapped-group case)
// alongside the tree; warnings are advisory, never fatal.
func ParseDepTree(text string) (DepNode, []DepTreeWarning, error) {
	p := &depTreeParser{toks: tokenizeDepTree(text)}
	children, err := p.parseGroup()
	if err != nil {
		return nil, nil, err
	}
	if p.pos != len(p.toks) {
		return nil, nil, BadSpec(text, "unexpected trailing token "+p.toks[p.pos])
	}
	return AllOf{Children: children}, p.Warnings, nil
}

// tokenizeDepTree splits on whitespace; "(" and ")" are always
// space-delimited in this grammar, exactly as in the PMS/Exherbo source
// formats being modelled, so a plain Fields split already isolates them.
func tokenizeDepTree(text string) []string {
	return strings.Fields(text)
}

func (p *depTreeParser) peek() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos], true
}

func (p *depTreeParser) next() (string, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *depTreeParser) expect(tok string) error {
	got, ok := p.next()
	if !ok || got != tok {
		return BadSpec(tok, "expected "+tok+" but found end of input or "+got)
	}
	return nil
}

// parseGroup parses element* until ")" or end of input, per the grammar
// above; it never consumes the closing ")" itself.
func (p *depTreeParser) parseGroup() ([]DepNode, error) {
	var out []DepNode
	for {
		tok, ok := p.peek()
		if !ok || tok == ")" {
			return out, nil
		}
		el, err := p.parseElement()
		if err != nil {
			return nil, err
		}
		out = append(out, el...)
	}
}

// parseElement parses one grammar element, returning one or more DepNodes
// (a "!"-wrapped-group expands to several Block nodes).
func (p *depTreeParser) parseElement() ([]DepNode, error) {
	tok, _ := p.next()

	switch {
	case tok == "||":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		children, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if err := rejectNestedBlockers(children); err != nil {
			return nil, err
		}
		return []DepNode{AnyOf{Children: children}}, nil

	case strings.HasSuffix(tok, "?"):
		negated := strings.HasPrefix(tok, "!")
		flag := strings.TrimSuffix(tok, "?")
		flag = strings.TrimPrefix(flag, "!")
		if flag == "" {
			return nil, BadSpec(tok, "empty use flag in conditional")
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		children, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return []DepNode{Conditional{Choice: flag, Negated: negated, Body: AllOf{Children: children}}}, nil

	case strings.HasSuffix(tok, ":") && isLabelToken(tok):
		return []DepNode{Label{Kinds: labelKindsFor(tok)}}, nil

	case tok == "!" || tok == "!!":
		// A bare "!"/"!!" immediately followed by a group, rather than an
		// atom, is accepted: flatten the group and apply the block to every
		// package atom found inside it, carrying a warning rather than
		// failing the whole parse.
		if next, ok := p.peek(); !ok || next != "(" {
			// Not actually a group -- fall through to plain atom handling,
			// which re-parses tok on its own; ParseSpec rejects a bare
			// "!"/"!!" as having no category/package.
			p.pos--
			return p.parseAtom()
		}
		p.pos++ // consume "("
		children, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		strong := tok == "!!"
		blocks := blockEveryPackage(children, strong)
		p.Warnings = append(p.Warnings, DepTreeWarning{
			Text: "\"" + tok + "\" applied to a group rather than a single atom; blocking every package named inside it",
		})
		return blocks, nil

	default:
		p.pos--
		return p.parseAtom()
	}
}

func (p *depTreeParser) parseAtom() ([]DepNode, error) {
	tok, ok := p.next()
	if !ok {
		return nil, BadSpec("", "expected an atom, found end of input")
	}
	spec, err := ParseSpec(tok)
	if err != nil {
		return nil, err
	}
	if spec.Block || spec.StrongBlock {
		return []DepNode{Block{Spec: spec, Strong: spec.StrongBlock}}, nil
	}
	return []DepNode{Package{Spec: spec}}, nil
}

func isLabelToken(tok string) bool {
	body := strings.TrimSuffix(tok, ":")
	for _, part := range strings.Split(body, "+") {
		if _, ok := labelTokens[part]; !ok {
			return false
		}
	}
	return body != ""
}

func labelKindsFor(tok string) []DepLabel {
	body := strings.TrimSuffix(tok, ":")
	var out []DepLabel
	for _, part := range strings.Split(body, "+") {
		out = append(out, labelTokens[part])
	}
	return out
}

// rejectNestedBlockers enforces the AnyOf invariant that its children
// may not contain blockers.
func rejectNestedBlockers(children []DepNode) error {
	for _, c := range children {
		if _, ok := c.(Block); ok {
			return BadSpec("||", "AnyOf group may not contain a blocker")
		}
	}
	return nil
}

// blockEveryPackage recursively collects every Package leaf within nodes
// and returns one Block per package found.
func blockEveryPackage(nodes []DepNode, strong bool) []DepNode {
	var out []DepNode
	var walk func(DepNode)
	walk = func(n DepNode) {
		switch t := n.(type) {
		case AllOf:
			for _, c := range t.Children {
				walk(c)
			}
		case AnyOf:
			for _, c := range t.Children {
				walk(c)
			}
		case Conditional:
			walk(t.Body)
		case Package:
			out = append(out, Block{Spec: t.Spec, Strong: strong})
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return out
}
