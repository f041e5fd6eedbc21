package lmx2594

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// defsLexer tokenizes register definition exports: one "R<n> 0x<word>" pair
// per line, with '#' or '//' comments.
var defsLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(#|//)[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s\t\n\r]+`},
	{Name: "Register", Pattern: `R[0-9]+`},
	{Name: "Hex", Pattern: `0[xX][0-9A-Fa-f]+`},
})

type defsFile struct {
	Entries []*defsEntry `parser:"@@*"`
}

type defsEntry struct {
	Pos      lexer.Position
	Register string `parser:"@Register"`
	Value    string `parser:"@Hex"`
}

// DefsParser parses clock synthesizer register definition files.
type DefsParser struct {
	parser *participle.Parser[defsFile]
}

// NewDefsParser builds the parser.
func NewDefsParser() (*DefsParser, error) {
	p, err := participle.Build[defsFile](
		participle.Lexer(defsLexer),
		participle.Elide("Comment", "Whitespace"),
	)
	if err != nil {
		return nil, fmt.Errorf("lmx2594: build defs parser: %w", err)
	}
	return &DefsParser{parser: p}, nil
}

// Parse reads one definition file into a profile called name. Every word
// must carry its own register number in bits 23:16.
func (p *DefsParser) Parse(name string, r io.Reader) (Profile, error) {
	f, err := p.parser.Parse(name, r)
	if err != nil {
		return Profile{}, fmt.Errorf("lmx2594: %s: %v: %w", name, err, status.InvalidData)
	}
	prof := Profile{Name: name}
	for _, e := range f.Entries {
		reg, err := strconv.ParseUint(e.Register[1:], 10, 8)
		if err != nil || reg > maxRegister {
			return Profile{}, fmt.Errorf("lmx2594: %s: register %s out of range: %w", e.Pos, e.Register, status.InvalidData)
		}
		word, err := strconv.ParseUint(e.Value[2:], 16, 32)
		if err != nil || word > 0xFFFFFF {
			return Profile{}, fmt.Errorf("lmx2594: %s: value %s is not a 24-bit word: %w", e.Pos, e.Value, status.InvalidData)
		}
		if word>>16 != reg {
			return Profile{}, fmt.Errorf("lmx2594: %s: %s carries address 0x%02X: %w", e.Pos, e.Register, word>>16, status.InvalidData)
		}
		prof.Words = append(prof.Words, uint32(word))
	}
	if len(prof.Words) == 0 {
		return Profile{}, fmt.Errorf("lmx2594: %s: no registers: %w", name, status.InvalidData)
	}
	return prof, nil
}

// LoadDefs parses every *.txt file at the top of fsys. Profiles are named
// after the file and returned sorted by name.
func LoadDefs(fsys fs.FS) ([]Profile, error) {
	if fsys == nil {
		return nil, fmt.Errorf("lmx2594: no definitions directory: %w", status.DirectoryNotFound)
	}
	names, err := fs.Glob(fsys, "*.txt")
	if err != nil {
		return nil, fmt.Errorf("lmx2594: list definitions: %v: %w", err, status.DirectoryNotFound)
	}
	sort.Strings(names)

	p, err := NewDefsParser()
	if err != nil {
		return nil, err
	}
	var out []Profile
	for _, name := range names {
		f, err := fsys.Open(name)
		if err != nil {
			return nil, fmt.Errorf("lmx2594: open %s: %v: %w", name, err, status.FileError)
		}
		prof, err := p.Parse(strings.TrimSuffix(path.Base(name), ".txt"), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, prof)
	}
	return out, nil
}
