// Package contentstream parses page content streams into operations,
// serializes them back, and traces them with the full graphics and text
// state to attach page-space geometry to every painting operation.
package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfredact/ir/raw"
	"github.com/wudi/pdfredact/scanner"
	"github.com/wudi/pdfredact/writer"
)

// Operation is one operator with its operands. Inline images are a single
// "BI" operation whose operand is the image dictionary and whose Data is
// the image payload.
type Operation struct {
	Operator string
	Operands []raw.Object
	Data     []byte
}

// Op builds an operation.
func Op(operator string, operands ...raw.Object) Operation {
	return Operation{Operator: operator, Operands: operands}
}

// ErrDanglingOperands is returned for operands not followed by an operator.
var ErrDanglingOperands = errors.New("content stream ends with operands")

// Parse tokenizes a decoded content stream.
func Parse(data []byte) ([]Operation, error) {
	sc := scanner.New(data, scanner.Config{})
	var ops []Operation
	var operands []raw.Object
	for {
		tok, err := sc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ops, fmt.Errorf("offset %d: %w", sc.Position(), err)
		}
		if tok.Type != scanner.TokenKeyword || tok.Str == "{" || tok.Str == "}" {
			obj, err := sc.ObjectFrom(tok)
			if err != nil {
				return ops, fmt.Errorf("offset %d: %w", tok.Pos, err)
			}
			operands = append(operands, obj)
			continue
		}
		if tok.Str == "BI" {
			op, err := readInlineImage(sc)
			if err != nil {
				return ops, fmt.Errorf("inline image at %d: %w", tok.Pos, err)
			}
			ops = append(ops, op)
			operands = nil
			continue
		}
		ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
		operands = nil
	}
	if len(operands) > 0 {
		return ops, ErrDanglingOperands
	}
	return ops, nil
}

func readInlineImage(sc *scanner.Scanner) (Operation, error) {
	dict := raw.Dict()
	for {
		tok, err := sc.Next()
		if err != nil {
			return Operation{}, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "ID" {
			break
		}
		if tok.Type != scanner.TokenName {
			return Operation{}, fmt.Errorf("unexpected %q in image dictionary", tok.Str)
		}
		valTok, err := sc.Next()
		if err != nil {
			return Operation{}, err
		}
		val, err := sc.ObjectFrom(valTok)
		if err != nil {
			return Operation{}, err
		}
		dict.Set(tok.Str, val)
	}
	data, err := sc.ReadInlineImage()
	if err != nil {
		return Operation{}, err
	}
	return Operation{Operator: "BI", Operands: []raw.Object{dict}, Data: append([]byte(nil), data...)}, nil
}

// Serialize writes ops as content stream syntax, one operation per line.
func Serialize(ops []Operation) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		writeOp(&buf, op)
	}
	return buf.Bytes()
}

func writeOp(buf *bytes.Buffer, op Operation) {
	if op.Operator == "BI" {
		buf.WriteString("BI")
		if len(op.Operands) == 1 {
			if d, ok := op.Operands[0].(*raw.DictObj); ok {
				// inline image keys in a stable order
				inner := writer.AppendObject(nil, d)
				buf.WriteByte(' ')
				buf.Write(inner[2 : len(inner)-2])
			}
		}
		buf.WriteString(" ID ")
		buf.Write(op.Data)
		buf.WriteString("\nEI\n")
		return
	}
	out := buf.AvailableBuffer()
	for _, operand := range op.Operands {
		out = writer.AppendObject(out, operand)
		out = append(out, ' ')
	}
	out = append(out, op.Operator...)
	out = append(out, '\n')
	buf.Write(out)
}
