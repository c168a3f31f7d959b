package sexpr

import (
	"fmt"
	"strconv"
	"strings"
)

type DatumType string

const (
	DatumTypeNumber DatumType = "number"
	DatumTypeSymbol DatumType = "symbol"
	DatumTypeList   DatumType = "list"
)

// Datum is one parsed s-expression value. D holds int64 for numbers,
// string for symbols, and []Datum for lists. Pos is the byte offset of
// the datum's first character in the source.
type Datum struct {
	Type DatumType
	Pos  int
	D    any
}

func Number(v int64) Datum {
	return Datum{Type: DatumTypeNumber, D: v}
}

func Symbol(name string) Datum {
	return Datum{Type: DatumTypeSymbol, D: name}
}

func List(items ...Datum) Datum {
	return Datum{Type: DatumTypeList, D: items}
}

// ParseError represents an error during parsing, with position.
type ParseError struct {
	Position int
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
}

// parser holds the state of the parsing process.
type parser struct {
	input string
	pos   int
}

func (p *parser) isAtEnd() bool {
	return p.pos >= len(p.input)
}

func (p *parser) peek() byte {
	if p.isAtEnd() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) advance() {
	if !p.isAtEnd() {
		p.pos++
	}
}

func (p *parser) skipWhitespace() {
	for !p.isAtEnd() {
		switch p.peek() {
		case ' ', '\t', '\n', '\r':
			p.advance()
		default:
			return
		}
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '[', ']':
		return true
	}
	return false
}

func isAtomChar(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r':
		return false
	}
	return !isDelimiter(c)
}

func closerFor(open byte) byte {
	if open == '[' {
		return ']'
	}
	return ')'
}

func (p *parser) parseAtom() (Datum, error) {
	start := p.pos
	for !p.isAtEnd() && isAtomChar(p.peek()) {
		p.advance()
	}

	text := p.input[start:p.pos]
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Datum{Type: DatumTypeNumber, Pos: start, D: n}, nil
	}
	return Datum{Type: DatumTypeSymbol, Pos: start, D: text}, nil
}

// parseListBody consumes elements until the matching closer. Both
// bracket styles nest freely but must be closed pairwise.
func (p *parser) parseListBody(openPos int, closer byte) (Datum, error) {
	items := []Datum{}
	for {
		p.skipWhitespace()
		if p.isAtEnd() {
			return Datum{}, &ParseError{
				Position: p.pos,
				Message:  fmt.Sprintf("unexpected end of input, expected '%c'", closer),
			}
		}
		c := p.peek()
		if c == closer {
			p.advance()
			return Datum{Type: DatumTypeList, Pos: openPos, D: items}, nil
		}
		if c == ')' || c == ']' {
			return Datum{}, &ParseError{
				Position: p.pos,
				Message:  fmt.Sprintf("mismatched '%c', expected '%c'", c, closer),
			}
		}
		element, err := p.parseElement()
		if err != nil {
			return Datum{}, err
		}
		items = append(items, element)
	}
}

func (p *parser) parseElement() (Datum, error) {
	p.skipWhitespace()
	if p.isAtEnd() {
		return Datum{}, &ParseError{Position: p.pos, Message: "unexpected end of input, expected datum"}
	}

	pos := p.pos
	switch c := p.peek(); c {
	case '(', '[':
		p.advance()
		return p.parseListBody(pos, closerFor(c))
	case ')', ']':
		return Datum{}, &ParseError{Position: pos, Message: fmt.Sprintf("unexpected '%c'", c)}
	default:
		return p.parseAtom()
	}
}

// Parse reads exactly one datum from src. Anything other than
// whitespace after the datum is an error.
func Parse(src string) (Datum, error) {
	p := &parser{input: src, pos: 0}
	d, err := p.parseElement()
	if err != nil {
		return Datum{}, err
	}
	p.skipWhitespace()
	if !p.isAtEnd() {
		return Datum{}, &ParseError{
			Position: p.pos,
			Message:  fmt.Sprintf("unexpected trailing input starting at '%c'", p.peek()),
		}
	}
	return d, nil
}

// Encode renders the datum in canonical form: single spaces between
// list elements, round brackets for every list. Parsing the result
// yields a structurally identical datum.
func (d Datum) Encode() string {
	var b strings.Builder
	d.encodeTo(&b)
	return b.String()
}

func (d Datum) encodeTo(b *strings.Builder) {
	switch d.Type {
	case DatumTypeNumber:
		b.WriteString(strconv.FormatInt(d.D.(int64), 10))
	case DatumTypeSymbol:
		b.WriteString(d.D.(string))
	case DatumTypeList:
		b.WriteByte('(')
		for i, item := range d.D.([]Datum) {
			if i > 0 {
				b.WriteByte(' ')
			}
			item.encodeTo(b)
		}
		b.WriteByte(')')
	}
}

// Equal compares structure only; source positions are ignored.
func (d Datum) Equal(other Datum) bool {
	if d.Type != other.Type {
		return false
	}
	switch d.Type {
	case DatumTypeList:
		ds := d.D.([]Datum)
		os := other.D.([]Datum)
		if len(ds) != len(os) {
			return false
		}
		for i := range ds {
			if !ds[i].Equal(os[i]) {
				return false
			}
		}
		return true
	default:
		return d.D == other.D
	}
}
