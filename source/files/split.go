package files

import (
	"fmt"
	"strings"

	"github.com/root-talis/shinka/source"
)

// Lines marking a statement that must reach the database as one piece, such as a trigger body.
// The markers are the ones goose uses, so goose scripts load unchanged.
const (
	statementBegin = "-- +goose StatementBegin"
	statementEnd   = "-- +goose StatementEnd"
)

// splitStatements splits a script on semicolons outside string literals, quoted identifiers,
// dollar-quoted bodies and comments. Text between statementBegin and statementEnd lines is kept
// as one statement. Comments outside blocks are dropped.
func splitStatements(script string) ([]string, error) {
	var s splitter

	for _, line := range strings.SplitAfter(script, "\n") {
		if err := s.line(line); err != nil {
			return nil, err
		}
	}

	return s.finish()
}

type splitter struct {
	statements []string
	current    strings.Builder

	lineNo       int
	quote        byte
	dollarTag    string
	blockComment bool
	inBlock      bool
	blockStart   int
}

func (s *splitter) inLiteral() bool {
	return s.quote != 0 || s.dollarTag != "" || s.blockComment
}

func (s *splitter) line(line string) error {
	s.lineNo++

	if !s.inLiteral() {
		switch strings.TrimSpace(line) {
		case statementBegin:
			if s.inBlock {
				return fmt.Errorf("%w: line %d: StatementBegin inside a block opened on line %d", source.ErrInvalidScript, s.lineNo, s.blockStart)
			}
			if strings.TrimSpace(s.current.String()) != "" {
				return fmt.Errorf("%w: line %d: StatementBegin after an unterminated statement", source.ErrInvalidScript, s.lineNo)
			}
			s.current.Reset()
			s.inBlock = true
			s.blockStart = s.lineNo
			return nil
		case statementEnd:
			if !s.inBlock {
				return fmt.Errorf("%w: line %d: StatementEnd without StatementBegin", source.ErrInvalidScript, s.lineNo)
			}
			s.inBlock = false
			s.flush()
			return nil
		}
	}

	if s.inBlock {
		s.current.WriteString(line)
		return nil
	}

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch {
		case s.blockComment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.blockComment = false
				i++
			}
			continue
		case s.quote != 0:
			// a doubled quote closes and reopens the literal, which leaves it open as it should
			s.current.WriteByte(c)
			if c == s.quote {
				s.quote = 0
			}
			continue
		case s.dollarTag != "":
			if strings.HasPrefix(line[i:], s.dollarTag) {
				s.current.WriteString(s.dollarTag)
				i += len(s.dollarTag) - 1
				s.dollarTag = ""
				continue
			}
			s.current.WriteByte(c)
			continue
		}

		switch c {
		case '\'', '"', '`':
			s.quote = c
			s.current.WriteByte(c)
		case '-':
			if i+1 < len(line) && line[i+1] == '-' {
				if strings.HasSuffix(line, "\n") {
					s.current.WriteByte('\n')
				}
				return nil
			}
			s.current.WriteByte(c)
		case '/':
			if i+1 < len(line) && line[i+1] == '*' {
				s.blockComment = true
				i++
				continue
			}
			s.current.WriteByte(c)
		case '$':
			if tag := dollarTag(line[i:]); tag != "" {
				s.dollarTag = tag
				s.current.WriteString(tag)
				i += len(tag) - 1
				continue
			}
			s.current.WriteByte(c)
		case ';':
			s.flush()
		default:
			s.current.WriteByte(c)
		}
	}

	return nil
}

func (s *splitter) finish() ([]string, error) {
	switch {
	case s.inBlock:
		return nil, fmt.Errorf("%w: StatementBegin on line %d is never closed", source.ErrInvalidScript, s.blockStart)
	case s.quote != 0:
		return nil, fmt.Errorf("%w: unterminated %c literal", source.ErrInvalidScript, s.quote)
	case s.dollarTag != "":
		return nil, fmt.Errorf("%w: unterminated %s body", source.ErrInvalidScript, s.dollarTag)
	case s.blockComment:
		return nil, fmt.Errorf("%w: unterminated comment", source.ErrInvalidScript)
	}

	s.flush()

	return s.statements, nil
}

func (s *splitter) flush() {
	if stmt := strings.TrimSpace(s.current.String()); stmt != "" {
		s.statements = append(s.statements, stmt)
	}
	s.current.Reset()
}

// dollarTag returns the $tag$ opening text, or "" when text does not start with one.
// Positional parameters such as $1 are not tags.
func dollarTag(text string) string {
	for j := 1; j < len(text); j++ {
		c := text[j]
		switch {
		case c == '$':
			return text[:j+1]
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && j > 1:
		default:
			return ""
		}
	}
	return ""
}
