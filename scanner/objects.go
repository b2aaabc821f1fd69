package scanner

import (
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfredact/ir/raw"
)

const maxNesting = 256

var ErrUnexpectedToken = errors.New("unexpected token")

// ReadObject parses one direct object starting at the current position.
// Stream payloads are not consumed; callers check for the "stream" keyword.
func (s *Scanner) ReadObject() (raw.Object, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	return s.objectFrom(tok, 0)
}

// ObjectFrom parses the object that begins with tok.
func (s *Scanner) ObjectFrom(tok Token) (raw.Object, error) {
	return s.objectFrom(tok, 0)
}

func (s *Scanner) objectFrom(tok Token, depth int) (raw.Object, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("object nesting exceeds %d", maxNesting)
	}
	switch tok.Type {
	case TokenNumber:
		if tok.IsInt {
			return raw.Int(tok.Int), nil
		}
		return raw.Float(tok.Float), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenName:
		return raw.Name(tok.Str), nil
	case TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case TokenNull:
		return raw.NullObj{}, nil
	case TokenRef:
		return raw.Ref(tok.Num, tok.Gen), nil
	case TokenArray:
		arr := raw.NewArray()
		for {
			next, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return arr, nil
				}
				return nil, err
			}
			if next.Type == TokenKeyword && next.Str == "]" {
				return arr, nil
			}
			item, err := s.objectFrom(next, depth+1)
			if err != nil {
				return nil, err
			}
			arr.Append(item)
		}
	case TokenDict:
		dict := raw.Dict()
		for {
			key, err := s.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return dict, nil
				}
				return nil, err
			}
			if key.Type == TokenKeyword && key.Str == ">>" {
				return dict, nil
			}
			if key.Type != TokenName {
				return nil, fmt.Errorf("%w: dictionary key %q at %d", ErrUnexpectedToken, key.Str, key.Pos)
			}
			valTok, err := s.Next()
			if err != nil {
				return nil, err
			}
			if valTok.Type == TokenKeyword && valTok.Str == ">>" {
				// odd key count: drop the dangling key
				return dict, nil
			}
			val, err := s.objectFrom(valTok, depth+1)
			if err != nil {
				return nil, err
			}
			dict.Set(key.Str, val)
		}
	case TokenKeyword:
		return raw.KeywordObj{Val: tok.Str}, nil
	}
	return nil, fmt.Errorf("%w at %d", ErrUnexpectedToken, tok.Pos)
}
