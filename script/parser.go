// Package script parses the show script format into segments.
//
//	show "Demo" {
//	  meta { author: "Ann" speed: 1.2 }
//	  text intro font "Go" size 36 line-height 1.4 color #f0f0f0 { "Hello ${user.name}" }
//	  image logo src "logo.png" duration 4s
//	  crop chart src "chart.png" region 10 10 50 40
//	  page slides src "deck.pdf" page 3 duration 8s
//	}
package script

import (
	"fmt"
	"io"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n+`},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
		{Name: "LineComment", Pattern: `//[^\n]*`},
		{Name: "Color", Pattern: `#(?:[0-9A-Fa-f]{8}|[0-9A-Fa-f]{6}|[0-9A-Fa-f]{3})\b`},
		{Name: "HashComment", Pattern: `#[^\n]*`},
		{Name: "Duration", Pattern: `\d+(?:\.\d+)?(?:ms|s|m|h)\b`},
		{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
		{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
		{Name: "Symbol", Pattern: `[:;,]`},
		{Name: "LBrace", Pattern: `{`},
		{Name: "RBrace", Pattern: `}`},
	})

	scriptParser = participle.MustBuild[Script](
		participle.Lexer(scriptLexer),
		participle.Elide("Whitespace", "LineComment", "BlockComment", "HashComment"),
	)
)

// Script is the root of a parsed show.
type Script struct {
	Pos     lexer.Position `parser:"" json:"-"`
	Title   StringLiteral  `parser:"Newline* 'show' @String"`
	Entries []*Entry       `parser:"'{' Newline* ( @@ ( ';' | Newline )* )* '}' Newline*"`
}

// Entry is a top-level statement: a meta block or a segment declaration.
type Entry struct {
	Meta    *MetaBlock   `parser:"  @@"`
	Segment *Declaration `parser:"| @@"`
}

// MetaBlock holds show-level settings.
type MetaBlock struct {
	Assignments []*Assignment `parser:"'meta' '{' Newline* ( @@ ( ';' | ',' | Newline )* )* '}'"`
}

// Assignment uses colon syntax (key: value).
type Assignment struct {
	Key   string     `parser:"@Ident ':'"`
	Value *MetaValue `parser:"@@"`
}

// MetaValue is a literal or a bare word such as on/off.
type MetaValue struct {
	Literal *Value  `parser:"  @@"`
	Word    *string `parser:"| @Ident"`
}

// Raw returns the assigned value as written.
func (a *Assignment) Raw() string {
	if a.Value == nil {
		return ""
	}
	if a.Value.Word != nil {
		return *a.Value.Word
	}
	return a.Value.Literal.Raw()
}

// Declaration declares one segment: kind, id, properties and an optional text body.
type Declaration struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Kind  string         `parser:"@( 'text' | 'image' | 'crop' | 'page' )"`
	ID    string         `parser:"@Ident"`
	Props []*Property    `parser:"@@*"`
	Body  *Body          `parser:"@@?"`
}

// Property is a named attribute followed by its literal arguments.
type Property struct {
	Pos  lexer.Position `parser:"" json:"-"`
	Name string         `parser:"@Ident"`
	Args []*Value       `parser:"@@*"`
}

// Body is the brace-delimited text of a text segment.
type Body struct {
	Lines []*TextLine `parser:"'{' Newline* ( @@ ( ',' | ';' | Newline )* )* '}'"`
}

// TextLine is one string literal inside a body.
type TextLine struct {
	Value StringLiteral `parser:"@String"`
}

// Value is a literal argument.
type Value struct {
	Pos      lexer.Position `parser:"" json:"-"`
	String   *StringLiteral `parser:"  @String"`
	Duration *string        `parser:"| @Duration"`
	Number   *string        `parser:"| @Number"`
	Color    *string        `parser:"| @Color"`
}

// Raw returns the literal as written, unquoted for strings.
func (v *Value) Raw() string {
	switch {
	case v == nil:
		return ""
	case v.String != nil:
		return string(*v.String)
	case v.Duration != nil:
		return *v.Duration
	case v.Number != nil:
		return *v.Number
	case v.Color != nil:
		return *v.Color
	default:
		return ""
	}
}

// StringLiteral unquotes Go-style strings on capture.
type StringLiteral string

// Capture implements participle.Capture.
func (s *StringLiteral) Capture(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("string literal capture requires value")
	}
	val, err := strconv.Unquote(values[0])
	if err != nil {
		return err
	}
	*s = StringLiteral(val)
	return nil
}

// Parse parses a script from r. name is used in error positions.
func Parse(name string, r io.Reader) (*Script, error) {
	return scriptParser.Parse(name, r)
}

// ParseString parses a script from a string.
func ParseString(input string) (*Script, error) {
	return scriptParser.ParseString("", input)
}
