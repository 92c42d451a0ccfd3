// Package derivation implements component D of the cache push client: a
// single-pass, hand-written predictive parser for the textual derivation
// format described in spec.md §4.D. The only nonterminal that needs more
// than one token of lookahead is quotedStorePath, and even there no actual
// backtracking is required: a quoted string is parsed in full and then
// reinterpreted as a store path, so failure is just a parse error rather
// than a different parse path.
package derivation

import (
	"strings"

	"github.com/ixmatus/nix-binary-cache/internal/errs"
	"github.com/ixmatus/nix-binary-cache/internal/filehash"
	"github.com/ixmatus/nix-binary-cache/internal/storepath"
)

// Output is one entry of a Derivation's outputs map.
type Output struct {
	Path StorePath
	Hash *filehash.FileHash // non-nil only for a fixed-output derivation
}

// StorePath is an alias kept local to this package's public surface so
// callers don't need to import storepath just to read a Derivation.
type StorePath = storepath.StorePath

// InputDerivation records which outputs of another derivation this one
// consumes.
type InputDerivation struct {
	Outputs []string
}

// Derivation is the parsed record described in spec.md §3.
type Derivation struct {
	Outputs          map[string]Output
	InputDerivations map[StorePath]InputDerivation
	InputSources     []StorePath
	System           string
	Builder          string
	Args             []string
	Env              map[string]string
}

type parser struct {
	s   string
	pos int
}

// Parse parses the textual derivation format produced by the store's
// derivation-writing tool.
func Parse(text string) (Derivation, error) {
	p := &parser{s: text}
	d, err := p.parseDerivation()
	if err != nil {
		return Derivation{}, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return Derivation{}, errs.New(errs.BadDerivation, "trailing input after derivation")
	}
	return d, nil
}

func (p *parser) fail(msg string) error {
	return errs.New(errs.BadDerivation, msg)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) expect(lit string) error {
	p.skipSpace()
	if !strings.HasPrefix(p.s[p.pos:], lit) {
		return p.fail("expected " + lit)
	}
	p.pos += len(lit)
	return nil
}

func (p *parser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) parseDerivation() (Derivation, error) {
	var d Derivation
	if err := p.expect("Derive("); err != nil {
		return d, err
	}

	outputs, err := p.parseOutputs()
	if err != nil {
		return d, err
	}
	d.Outputs = outputs
	if err := p.expect(","); err != nil {
		return d, err
	}

	inDerivs, err := p.parseInDerivs()
	if err != nil {
		return d, err
	}
	d.InputDerivations = inDerivs
	if err := p.expect(","); err != nil {
		return d, err
	}

	inSrcs, err := p.parseQuotedStorePathList()
	if err != nil {
		return d, err
	}
	d.InputSources = inSrcs
	if err := p.expect(","); err != nil {
		return d, err
	}

	system, err := p.parseStr()
	if err != nil {
		return d, err
	}
	d.System = system
	if err := p.expect(","); err != nil {
		return d, err
	}

	builder, err := p.parseStr()
	if err != nil {
		return d, err
	}
	d.Builder = builder
	if err := p.expect(","); err != nil {
		return d, err
	}

	args, err := p.parseStrList()
	if err != nil {
		return d, err
	}
	d.Args = args
	if err := p.expect(","); err != nil {
		return d, err
	}

	env, err := p.parseEnvs()
	if err != nil {
		return d, err
	}
	d.Env = env

	if err := p.expect(")"); err != nil {
		return d, err
	}
	if len(d.Outputs) == 0 {
		return d, p.fail("derivation has no outputs")
	}
	return d, nil
}

func (p *parser) parseOutputs() (map[string]Output, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	outputs := make(map[string]Output)
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return outputs, nil
	}
	for {
		name, out, err := p.parseOutput()
		if err != nil {
			return nil, err
		}
		if _, dup := outputs[name]; dup {
			return nil, p.fail("duplicate output name " + name)
		}
		outputs[name] = out
		b, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated outputs list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (p *parser) parseOutput() (string, Output, error) {
	if err := p.expect("("); err != nil {
		return "", Output{}, err
	}
	name, err := p.parseStr()
	if err != nil {
		return "", Output{}, err
	}
	if err := p.expect(","); err != nil {
		return "", Output{}, err
	}
	path, err := p.parseQuotedStorePath()
	if err != nil {
		return "", Output{}, err
	}
	if err := p.expect(","); err != nil {
		return "", Output{}, err
	}
	algo, err := p.parseStr()
	if err != nil {
		return "", Output{}, err
	}
	if err := p.expect(","); err != nil {
		return "", Output{}, err
	}
	body, err := p.parseStr()
	if err != nil {
		return "", Output{}, err
	}
	if err := p.expect(")"); err != nil {
		return "", Output{}, err
	}

	out := Output{Path: path}
	if algo == "" {
		if body != "" {
			return "", Output{}, p.fail("output " + name + " has a hash body without an algorithm")
		}
	} else {
		if algo != "sha256" {
			return "", Output{}, errs.New(errs.UnknownHashAlgorithm, algo)
		}
		h, err := filehash.Parse("sha256:" + body)
		if err != nil {
			return "", Output{}, err
		}
		out.Hash = &h
	}
	return name, out, nil
}

func (p *parser) parseInDerivs() (map[StorePath]InputDerivation, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	result := make(map[StorePath]InputDerivation)
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return result, nil
	}
	for {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path, err := p.parseQuotedStorePath()
		if err != nil {
			return nil, err
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		outs, err := p.parseStrList()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		result[path] = InputDerivation{Outputs: outs}

		b, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated input-derivations list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *parser) parseQuotedStorePathList() ([]StorePath, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var result []StorePath
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return result, nil
	}
	for {
		path, err := p.parseQuotedStorePath()
		if err != nil {
			return nil, err
		}
		result = append(result, path)
		b, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated store path list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *parser) parseStrList() ([]string, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	var result []string
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return result, nil
	}
	for {
		s, err := p.parseStr()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
		b, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated string list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *parser) parseEnvs() (map[string]string, error) {
	if err := p.expect("["); err != nil {
		return nil, err
	}
	env := make(map[string]string)
	if b, ok := p.peek(); ok && b == ']' {
		p.pos++
		return env, nil
	}
	for {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		key, err := p.parseStr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		val, err := p.parseStr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		env[key] = val

		b, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated env list")
		}
		if b == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return env, nil
}

// parseQuotedStorePath parses a quoted string and reinterprets its content
// as an absolute full store path, keeping only the StorePath component.
func (p *parser) parseQuotedStorePath() (StorePath, error) {
	s, err := p.parseStr()
	if err != nil {
		return StorePath{}, err
	}
	full, err := storepath.ParseFull(s)
	if err != nil {
		return StorePath{}, errs.Wrap(errs.BadDerivation, s, err)
	}
	return full.StorePath, nil
}

// parseStr parses the quoted-string grammar from spec.md §4.D: printable
// characters pass through, \n \r \t \b map to their control characters,
// and \X for any other X maps to X.
func (p *parser) parseStr() (string, error) {
	if err := p.expect("\""); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		if p.pos >= len(p.s) {
			return "", p.fail("unterminated string literal")
		}
		c := p.s[p.pos]
		if c == '"' {
			p.pos++
			return sb.String(), nil
		}
		if c == '\\' {
			p.pos++
			if p.pos >= len(p.s) {
				return "", p.fail("unterminated escape sequence")
			}
			e := p.s[p.pos]
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			default:
				sb.WriteByte(e)
			}
			p.pos++
			continue
		}
		sb.WriteByte(c)
		p.pos++
	}
}
