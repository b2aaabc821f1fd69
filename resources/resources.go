// Package resources looks up named resources along the scope chain of a
// content stream: a form XObject's own /Resources, then the page's.
package resources

import "github.com/wudi/pdfredact/ir/raw"

type Category string

const (
	CategoryFont       Category = "Font"
	CategoryXObject    Category = "XObject"
	CategoryExtGState  Category = "ExtGState"
	CategoryColorSpace Category = "ColorSpace"
	CategoryPattern    Category = "Pattern"
	CategoryShading    Category = "Shading"
	CategoryProperties Category = "Properties"
)

// Scope is one level of resource lookup.
type Scope struct {
	r      raw.Resolver
	dict   *raw.DictObj
	parent *Scope
}

// NewScope starts a chain at the page level. dict may be nil.
func NewScope(r raw.Resolver, dict *raw.DictObj) *Scope {
	return &Scope{r: r, dict: dict}
}

// Child returns the scope of a form XObject. A form without resources
// inherits its parent's.
func (s *Scope) Child(dict *raw.DictObj) *Scope {
	if dict == nil {
		return s
	}
	return &Scope{r: s.r, dict: dict, parent: s}
}

// Dict is the resource dictionary of this level.
func (s *Scope) Dict() *raw.DictObj { return s.dict }

// Resolver returns the resolver used for lookups.
func (s *Scope) Resolver() raw.Resolver { return s.r }

// Lookup returns the entry name in category, unresolved so callers can use
// indirect references as identity.
func (s *Scope) Lookup(category Category, name string) (raw.Object, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if sc.dict == nil {
			continue
		}
		cat := sc.dict.Dict(sc.r, string(category))
		if cat == nil {
			continue
		}
		if v, ok := cat.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// XObject resolves a named XObject stream and its subtype.
func (s *Scope) XObject(name string) (raw.Object, *raw.StreamObj, string) {
	obj, ok := s.Lookup(CategoryXObject, name)
	if !ok {
		return nil, nil, ""
	}
	stm := raw.StreamOf(s.r, obj)
	if stm == nil {
		return obj, nil, ""
	}
	return obj, stm, stm.Dict.Name(s.r, "Subtype")
}
