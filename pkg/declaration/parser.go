package declaration

import (
	"fmt"
	"strings"
)

// Document is the parsed shape of a declaration file: the parts the
// patcher reads or rewrites. Everything else is kept as source text.
type Document struct {
	Src          []byte
	Imports      []Import
	TypeAliases  []TypeAlias
	Constructors []Constructor
	// Values are the names of exported runtime bindings: classes,
	// functions, variables and non-const enums.
	Values []string
}

// Import is an `import [type] { A as B, ... } from '...'` declaration
type Import struct {
	Start, End int
	TypeOnly   bool
	Specifiers []ImportSpecifier
	From       string
}

// ImportSpecifier is one imported binding. Alias equals Name when no `as`
// clause is present.
type ImportSpecifier struct {
	Name  string
	Alias string
}

// TypeAlias is a `type Name = ...` declaration
type TypeAlias struct {
	Name     string
	Exported bool
	Start    int
}

// Constructor is a constructor signature. Open and Close are the offsets of
// the parentheses delimiting the parameter list.
type Constructor struct {
	Start  int
	Open   int
	Close  int
	Params []Param
}

// Param is one constructor parameter
type Param struct {
	Name     string
	Optional bool
	Rest     bool
	Type     string
}

// Signature returns the constructor text from the keyword through the
// closing parenthesis.
func (c Constructor) Signature(src []byte) string {
	return string(src[c.Start : c.Close+1])
}

// HasImport reports whether the document imports name under alias
func (d *Document) HasImport(name, alias string) bool {
	for _, imp := range d.Imports {
		for _, spec := range imp.Specifiers {
			if spec.Name == name && spec.Alias == alias {
				return true
			}
		}
	}
	return false
}

// HasTypeAlias reports whether the document declares a type alias named name
func (d *Document) HasTypeAlias(name string) bool {
	for _, ta := range d.TypeAliases {
		if ta.Name == name {
			return true
		}
	}
	return false
}

func (d *Document) addValue(name string) {
	for _, v := range d.Values {
		if v == name {
			return
		}
	}
	d.Values = append(d.Values, name)
}

// Parse builds a Document from declaration source
func Parse(filename string, src []byte) (*Document, error) {
	all, err := Scan(filename, src)
	if err != nil {
		return nil, err
	}

	toks := make([]Token, 0, len(all))
	for _, t := range all {
		if t.Kind != TokComment {
			toks = append(toks, t)
		}
	}

	p := &parser{filename: filename, src: src, toks: toks}
	return p.parse()
}

type parser struct {
	filename string
	src      []byte
	toks     []Token
	doc      Document
}

func (p *parser) at(i int) Token {
	if i < len(p.toks) {
		return p.toks[i]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) unbalanced(tok Token, format string, args ...any) error {
	line, col := position(p.src, tok.Start)
	return &SyntaxError{
		Filename: p.filename,
		Line:     line,
		Column:   col,
		Msg:      fmt.Sprintf(format, args...),
		Err:      ErrUnbalancedParameters,
	}
}

func (p *parser) parse() (*Document, error) {
	p.doc.Src = p.src

	for i := 0; i < len(p.toks) && p.toks[i].Kind != TokEOF; {
		tok := p.toks[i]
		prevDot := i > 0 && p.toks[i-1].Is(".")

		switch {
		case tok.Kind == TokIdent && tok.Text == "import" && !prevDot:
			if imp, next, ok := p.parseImport(i); ok {
				p.doc.Imports = append(p.doc.Imports, imp)
				i = next
				continue
			}
		case tok.Kind == TokIdent && tok.Text == "type" && !prevDot:
			if p.at(i+1).Kind == TokIdent && (p.at(i+2).Is("=") || p.at(i+2).Is("<")) {
				p.doc.TypeAliases = append(p.doc.TypeAliases, TypeAlias{
					Name:     p.at(i + 1).Text,
					Exported: i > 0 && p.toks[i-1].Is("export"),
					Start:    tok.Start,
				})
			}
		case tok.Kind == TokIdent && tok.Text == "export" && !prevDot:
			if name, ok := p.exportedValue(i + 1); ok {
				p.doc.addValue(name)
			}
		case tok.Kind == TokIdent && tok.Text == "constructor" && !prevDot && p.at(i+1).Is("("):
			ctor, next, err := p.parseConstructor(i)
			if err != nil {
				return nil, err
			}
			p.doc.Constructors = append(p.doc.Constructors, ctor)
			i = next
			continue
		}
		i++
	}

	return &p.doc, nil
}

// exportedValue reads the name declared after `export` when the declaration
// exists at runtime. Types, interfaces and const enums are erased.
func (p *parser) exportedValue(j int) (string, bool) {
	if p.at(j).Is("declare") {
		j++
	}
	if p.at(j).Is("abstract") {
		j++
	}
	switch kw := p.at(j); {
	case kw.Is("class"), kw.Is("function"), kw.Is("let"), kw.Is("var"), kw.Is("enum"):
	case kw.Is("const"):
		if p.at(j + 1).Is("enum") {
			return "", false
		}
	default:
		return "", false
	}
	if name := p.at(j + 1); name.Kind == TokIdent {
		return name.Text, true
	}
	return "", false
}

// parseImport recognises named imports. Other import forms report ok=false
// and are left to the main loop.
func (p *parser) parseImport(i int) (Import, int, bool) {
	imp := Import{Start: p.toks[i].Start}
	j := i + 1

	if p.at(j).Is("type") && p.at(j+1).Is("{") {
		imp.TypeOnly = true
		j++
	}
	if !p.at(j).Is("{") {
		return Import{}, 0, false
	}
	j++

	for !p.at(j).Is("}") {
		if p.at(j).Kind == TokEOF {
			return Import{}, 0, false
		}
		if p.at(j).Is("type") && p.at(j+1).Kind == TokIdent && !p.at(j+1).Is("as") {
			j++
		}
		if p.at(j).Kind != TokIdent {
			return Import{}, 0, false
		}
		spec := ImportSpecifier{Name: p.at(j).Text, Alias: p.at(j).Text}
		j++
		if p.at(j).Is("as") && p.at(j+1).Kind == TokIdent {
			spec.Alias = p.at(j + 1).Text
			j += 2
		}
		imp.Specifiers = append(imp.Specifiers, spec)
		if p.at(j).Is(",") {
			j++
		}
	}
	j++

	if !p.at(j).Is("from") || p.at(j+1).Kind != TokString {
		return Import{}, 0, false
	}
	from := p.at(j + 1)
	imp.From = unquote(from.Text)
	imp.End = from.End
	j += 2
	if p.at(j).Is(";") {
		imp.End = p.at(j).End
		j++
	}

	return imp, j, true
}

var closers = map[string]string{"(": ")", "[": "]", "{": "}"}

func (p *parser) parseConstructor(i int) (Constructor, int, error) {
	ctor := Constructor{Start: p.toks[i].Start, Open: p.toks[i+1].Start}

	var stack []string
	paramStart := i + 2
	j := i + 2
	for {
		tok := p.at(j)
		if tok.Kind == TokEOF {
			return Constructor{}, 0, p.unbalanced(p.toks[i], "no closing parenthesis")
		}
		if tok.Kind == TokPunct {
			switch tok.Text {
			case "(", "[", "{":
				stack = append(stack, closers[tok.Text])
			case ")", "]", "}":
				if len(stack) == 0 {
					if tok.Text != ")" {
						return Constructor{}, 0, p.unbalanced(tok, "unexpected %q", tok.Text)
					}
					ctor.Close = tok.Start
					ctor.Params = p.splitParams(paramStart, j)
					return ctor, j + 1, nil
				}
				if want := stack[len(stack)-1]; want != tok.Text {
					return Constructor{}, 0, p.unbalanced(tok, "expected %q, found %q", want, tok.Text)
				}
				stack = stack[:len(stack)-1]
			}
		}
		j++
	}
}

// splitParams splits the tokens in [from, to) at top-level commas
func (p *parser) splitParams(from, to int) []Param {
	var params []Param
	depth := 0
	start := from
	for j := from; j <= to; j++ {
		if j < to {
			tok := p.toks[j]
			if tok.Kind == TokPunct {
				switch tok.Text {
				case "(", "[", "{", "<":
					depth++
				case ")", "]", "}", ">":
					depth--
				}
			}
			if !(depth == 0 && tok.Is(",")) {
				continue
			}
		}
		if start < j {
			params = append(params, p.param(start, j))
		}
		start = j + 1
	}
	return params
}

var paramModifiers = map[string]bool{"public": true, "private": true, "protected": true, "readonly": true}

func (p *parser) param(from, to int) Param {
	var prm Param
	j := from
	for j < to && p.toks[j].Kind == TokIdent && paramModifiers[p.toks[j].Text] && j+1 < to && p.toks[j+1].Kind == TokIdent {
		j++
	}
	if p.toks[j].Is("...") {
		prm.Rest = true
		j++
	}
	if j < to {
		prm.Name = p.toks[j].Text
		j++
	}
	if j < to && p.toks[j].Is("?") {
		prm.Optional = true
		j++
	}
	if j < to && p.toks[j].Is(":") {
		prm.Type = strings.TrimSpace(string(p.src[p.toks[j].End:p.toks[to-1].End]))
	}
	return prm
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}
