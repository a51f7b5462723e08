package declaration

import (
	"errors"
	"testing"
)

func TestScan_Kinds(t *testing.T) {
	src := []byte("import type { A as B } from './a' // trailing\n/* block */ x: `t-${string}` => ...rest 1.5")

	toks, err := Scan("x.d.ts", src)
	if err != nil {
		t.Fatalf("Scan() error: %v", err)
	}

	want := []struct {
		kind TokenKind
		text string
	}{
		{TokIdent, "import"}, {TokIdent, "type"}, {TokPunct, "{"}, {TokIdent, "A"},
		{TokIdent, "as"}, {TokIdent, "B"}, {TokPunct, "}"}, {TokIdent, "from"},
		{TokString, "'./a'"}, {TokComment, "// trailing"}, {TokComment, "/* block */"},
		{TokIdent, "x"}, {TokPunct, ":"}, {TokTemplate, "`t-${string}`"}, {TokPunct, "=>"},
		{TokPunct, "..."}, {TokIdent, "rest"}, {TokNumber, "1.5"}, {TokEOF, ""},
	}

	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || toks[i].Text != w.text {
			t.Errorf("token %d = %s %q, want %s %q", i, toks[i].Kind, toks[i].Text, w.kind, w.text)
		}
	}
}

func TestScan_OffsetsCoverSource(t *testing.T) {
	src := []byte("constructor(a: string)")
	toks, err := Scan("", src)
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range toks {
		if string(src[tok.Start:tok.End]) != tok.Text {
			t.Errorf("offsets of %q do not match source", tok.Text)
		}
	}
}

func TestScan_Unterminated(t *testing.T) {
	tests := map[string]string{
		"string":   "x: 'abc\n",
		"comment":  "/* never closed",
		"template": "x: `abc",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Scan("bad.d.ts", []byte(src))
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Fatalf("expected *SyntaxError, got %v", err)
			}
			if syntaxErr.Filename != "bad.d.ts" || syntaxErr.Line != 1 {
				t.Errorf("unexpected position %+v", syntaxErr)
			}
		})
	}
}

func TestParse_DocumentModel(t *testing.T) {
	src := []byte(`import type { CrittersOptions as FullCrittersOptions } from './bindings/CrittersOptions'
import { type Mode, Other } from "./bindings/Mode";
import * as ns from './ns'
export type CrittersOptions = Partial<FullCrittersOptions>
type Local<T> = T
export declare class Critters {
  constructor(private readonly path: string, opts?: Options, ...rest: Array<number>)
  process(html: string): string
}
`)

	doc, err := Parse("index.d.ts", src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if len(doc.Imports) != 2 {
		t.Fatalf("expected 2 named imports, got %d", len(doc.Imports))
	}
	if !doc.Imports[0].TypeOnly || doc.Imports[0].From != "./bindings/CrittersOptions" {
		t.Errorf("unexpected first import %+v", doc.Imports[0])
	}
	if !doc.HasImport("CrittersOptions", "FullCrittersOptions") {
		t.Error("expected aliased import")
	}
	if !doc.HasImport("Mode", "Mode") || !doc.HasImport("Other", "Other") {
		t.Errorf("expected inline type specifier to parse: %+v", doc.Imports[1])
	}

	if !doc.HasTypeAlias("CrittersOptions") || !doc.HasTypeAlias("Local") {
		t.Errorf("unexpected type aliases %+v", doc.TypeAliases)
	}
	if !doc.TypeAliases[0].Exported || doc.TypeAliases[1].Exported {
		t.Errorf("unexpected export flags %+v", doc.TypeAliases)
	}

	if len(doc.Constructors) != 1 {
		t.Fatalf("expected 1 constructor, got %d", len(doc.Constructors))
	}
	params := doc.Constructors[0].Params
	if len(params) != 3 {
		t.Fatalf("expected 3 params, got %+v", params)
	}
	if params[0].Name != "path" || params[0].Type != "string" {
		t.Errorf("param 0 = %+v", params[0])
	}
	if params[1].Name != "opts" || !params[1].Optional || params[1].Type != "Options" {
		t.Errorf("param 1 = %+v", params[1])
	}
	if params[2].Name != "rest" || !params[2].Rest || params[2].Type != "Array<number>" {
		t.Errorf("param 2 = %+v", params[2])
	}
	if sig := doc.Constructors[0].Signature(src); sig[:12] != "constructor(" {
		t.Errorf("Signature() = %q", sig)
	}
}

func TestParse_ExportedValues(t *testing.T) {
	src := []byte(`export type CrittersOptions = Partial<FullCrittersOptions>
export interface Stats { pages: number }
export declare class Critters {
  constructor(options?: CrittersOptions)
}
export declare abstract class Base {}
export declare function processFile(path: string): string
export declare const enum Mode { A }
export declare enum Level { Low }
export declare const version: string
export declare class Critters {}
declare class Hidden {}
`)

	doc, err := Parse("index.d.ts", src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	want := []string{"Critters", "Base", "processFile", "Level", "version"}
	if len(doc.Values) != len(want) {
		t.Fatalf("Values = %v, want %v", doc.Values, want)
	}
	for i := range want {
		if doc.Values[i] != want[i] {
			t.Errorf("Values[%d] = %q, want %q", i, doc.Values[i], want[i])
		}
	}
}

func TestPosition(t *testing.T) {
	src := []byte("ab\ncd\nef")
	line, col := position(src, 4)
	if line != 2 || col != 2 {
		t.Errorf("position = %d:%d, want 2:2", line, col)
	}
}
