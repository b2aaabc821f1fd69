package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenKeyword                  // other keywords (obj, endobj, stream, >>, ], operators)
)

type Token struct {
	Type  TokenType
	Pos   int64
	Str   string // name, keyword
	Bytes []byte // string payload
	Hex   bool
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Num   int // ref object number
	Gen   int // ref generation
}

// Config bounds the scanner against hostile input.
type Config struct {
	MaxStringLength int64
	MaxInlineImage  int64
}

var (
	ErrStringTooLong     = errors.New("string too long")
	ErrUnterminatedImage = errors.New("unterminated inline image")
)

// Scanner tokenizes PDF syntax held in memory.
type Scanner struct {
	data []byte
	pos  int64
	cfg  Config
}

func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg}
}

func (s *Scanner) Position() int64 { return s.pos }
func (s *Scanner) Len() int64      { return int64(len(s.data)) }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

// Next returns the next token or io.EOF.
func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName(), nil
	}
	if isDigitStart(c) {
		if tok, ok := s.scanNumberOrRef(); ok {
			return tok, nil
		}
	}
	return s.scanKeyword(), nil
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() Token {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, ErrStringTooLong
		}
	}
	// unterminated: keep what was read
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if isHex(c) {
			hexbuf = append(hexbuf, c)
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, ErrStringTooLong
	}
	out := make([]byte, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out[i/2] = fromHex(hexbuf[i])<<4 | fromHex(hexbuf[i+1])
	}
	return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
}

func (s *Scanner) scanKeyword() Token {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		// lone delimiter such as ')'
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}
}

// scanNumberOrRef reads a number; "n g R" is folded into a single TokenRef.
func (s *Scanner) scanNumberOrRef() (Token, bool) {
	start := s.pos
	num1, ok := s.scanNumberString()
	if !ok {
		s.pos = start
		return Token{}, false
	}
	tok := numberToken(num1, start)
	if !tok.IsInt || tok.Int < 0 {
		return tok, true
	}
	after := s.pos
	s.skipWSAndComments()
	genStart := s.pos
	num2, ok := s.scanNumberString()
	if ok {
		gen := numberToken(num2, genStart)
		s.skipWSAndComments()
		if gen.IsInt && gen.Int >= 0 && s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
			(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
			s.pos++
			return Token{Type: TokenRef, Num: int(tok.Int), Gen: int(gen.Int), Pos: start}, true
		}
	}
	s.pos = after
	return tok, true
}

func (s *Scanner) scanNumberString() (string, bool) {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return "", false
	}
	return string(s.data[start:s.pos]), true
}

func numberToken(str string, pos int64) Token {
	if i, err := strconv.ParseInt(str, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Str: str, Pos: pos}
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		// malformed numbers such as "1.2.3" or "--5" read as 0, like most viewers
		f = 0
	}
	return Token{Type: TokenNumber, Float: f, Str: str, Pos: pos}
}

// ReadStream returns the payload following a "stream" keyword. length < 0
// means unknown; the data then runs to the next "endstream".
func (s *Scanner) ReadStream(length int64) []byte {
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	needle := []byte("endstream")
	if length >= 0 && dataStart+length <= int64(len(s.data)) {
		end := dataStart + length
		rest := s.data[end:]
		trimmed := bytes.TrimLeft(rest, "\r\n\t \x00\x0c")
		if bytes.HasPrefix(trimmed, needle) {
			s.pos = end + int64(len(rest)-len(trimmed)) + int64(len(needle))
			return s.data[dataStart:end]
		}
	}
	idx := bytes.Index(s.data[dataStart:], needle)
	if idx < 0 {
		s.pos = int64(len(s.data))
		return s.data[dataStart:]
	}
	end := dataStart + int64(idx)
	s.pos = end + int64(len(needle))
	// trim a single EOL before the marker
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	return s.data[dataStart:end]
}

// ReadInlineImage consumes the bytes after an ID operator up to the EI
// delimiter and returns them. An EI preceded by whitespace wins; failing
// that, an EI directly after the data counts when what follows it reads
// as content stream syntax.
func (s *Scanner) ReadInlineImage() ([]byte, error) {
	if s.pos < int64(len(s.data)) && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	at := s.findEI(dataStart, true)
	if at < 0 {
		at = s.findEI(dataStart, false)
	}
	if at < 0 {
		s.pos = int64(len(s.data))
		return nil, ErrUnterminatedImage
	}
	if s.cfg.MaxInlineImage > 0 && at-dataStart > s.cfg.MaxInlineImage {
		return nil, ErrUnterminatedImage
	}
	end := at
	if end > dataStart && isWhitespace(s.data[end-1]) {
		end--
	}
	s.pos = at + 2
	return s.data[dataStart:end], nil
}

// findEI returns the offset of the first EI marker after from, or -1.
func (s *Scanner) findEI(from int64, needSpace bool) int64 {
	n := int64(len(s.data))
	for i := from; i+1 < n; i++ {
		if s.data[i] != 'E' || s.data[i+1] != 'I' {
			continue
		}
		if i+2 < n && !isDelimiter(s.data[i+2]) {
			continue
		}
		if needSpace {
			if i == from || isWhitespace(s.data[i-1]) {
				return i
			}
			continue
		}
		if syntaxFollows(s.data[i+2:]) {
			return i
		}
	}
	return -1
}

// syntaxFollows reports whether rest starts, after whitespace, with a
// printable token or ends.
func syntaxFollows(rest []byte) bool {
	i := 0
	for i < len(rest) && isWhitespace(rest[i]) {
		i++
	}
	if i == len(rest) {
		return true
	}
	j := i
	for j < len(rest) && !isWhitespace(rest[j]) {
		if rest[j] < 0x21 || rest[j] > 0x7e {
			return false
		}
		j++
	}
	return true
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
