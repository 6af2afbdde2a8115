package changeset

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// Parse decodes a changeset into its statements.
func Parse(changes string) ([]Statement, error) {
	p := parser{s: changes}
	var stmts []Statement
	for {
		p.skipSpace()
		if p.eof() {
			return stmts, nil
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "at offset %d", p.pos), ErrInvalidChangeset)
		}
		stmts = append(stmts, stmt)
	}
}

type parser struct {
	s   string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.s)
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) statement() (Statement, error) {
	op := Op(p.s[p.pos])
	if op != OpAddNode && op != OpSetProperty {
		return Statement{}, errors.Newf("unknown operator %q", byte(op))
	}
	p.pos++
	p.skipSpace()

	path, err := p.str()
	if err != nil {
		return Statement{}, errors.Wrap(err, "read path")
	}
	if path == "" {
		return Statement{}, errors.New("empty path")
	}
	p.skipSpace()
	if p.eof() || p.s[p.pos] != ':' {
		return Statement{}, errors.Newf("expected ':' after %q", path)
	}
	p.pos++
	p.skipSpace()

	raw, err := p.value()
	if err != nil {
		return Statement{}, errors.Wrapf(err, "read value of %q", path)
	}

	stmt := Statement{Op: op, Path: path}
	if op == OpSetProperty {
		stmt.Value = string(raw)
		return stmt, nil
	}

	var props map[string]json.RawMessage
	if err := json.Unmarshal(raw, &props); err != nil || props == nil {
		return Statement{}, errors.Newf("node %q must be a JSON object", path)
	}
	if len(props) > 0 {
		stmt.Properties = make(map[string]string, len(props))
		for k, v := range props {
			stmt.Properties[k] = string(v)
		}
	}
	return stmt, nil
}

// str reads a JSON string literal.
func (p *parser) str() (string, error) {
	if p.eof() || p.s[p.pos] != '"' {
		return "", errors.New("expected '\"'")
	}
	end := p.pos + 1
	for end < len(p.s) && p.s[end] != '"' {
		if p.s[end] == '\\' {
			end++
		}
		end++
	}
	if end >= len(p.s) {
		return "", errors.New("unterminated string")
	}
	var out string
	if err := json.Unmarshal([]byte(p.s[p.pos:end+1]), &out); err != nil {
		return "", err
	}
	p.pos = end + 1
	return out, nil
}

// value reads one JSON value and advances past it.
func (p *parser) value() (json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(p.s[p.pos:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	p.pos += int(dec.InputOffset())
	return raw, nil
}
