package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
}

// Resolver dereferences indirect objects. Implementations return the
// referenced object, or NullObj when the reference cannot be resolved.
type Resolver interface {
	Resolve(obj Object) Object
}

// Document is the root container for raw PDF objects.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer *DictObj
	Version string
}

func NewDocument() *Document {
	return &Document{Objects: make(map[ObjectRef]Object), Trailer: Dict(), Version: "1.7"}
}

// Resolve follows references until a direct object is reached.
func (d *Document) Resolve(obj Object) Object {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(RefObj)
		if !ok {
			if obj == nil {
				return NullObj{}
			}
			return obj
		}
		next, ok := d.Objects[ref.R]
		if !ok {
			return NullObj{}
		}
		obj = next
	}
	return NullObj{}
}

// MaxObjectNumber returns the highest object number in use.
func (d *Document) MaxObjectNumber() int {
	maxNum := 0
	for ref := range d.Objects {
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}
	return maxNum
}

// Add stores obj under a fresh object number and returns its reference.
func (d *Document) Add(obj Object) RefObj {
	ref := ObjectRef{Num: d.MaxObjectNumber() + 1}
	d.Objects[ref] = obj
	return RefObj{R: ref}
}

// Refs returns the object references in ascending object-number order.
func (d *Document) Refs() []ObjectRef {
	refs := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Num != refs[j].Num {
			return refs[i].Num < refs[j].Num
		}
		return refs[i].Gen < refs[j].Gen
	})
	return refs
}

// Clone returns a copy of d whose object map can be edited independently.
// Objects are deep-copied so staged edits never touch the original.
func (d *Document) Clone() *Document {
	out := &Document{
		Objects: make(map[ObjectRef]Object, len(d.Objects)),
		Version: d.Version,
	}
	for ref, obj := range d.Objects {
		out.Objects[ref] = DeepCopy(obj)
	}
	if d.Trailer != nil {
		out.Trailer = DeepCopy(d.Trailer).(*DictObj)
	}
	return out
}

// DeepCopy copies containers recursively; references are copied as-is.
func DeepCopy(obj Object) Object {
	switch v := obj.(type) {
	case *DictObj:
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = DeepCopy(item)
		}
		return out
	case *ArrayObj:
		out := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = DeepCopy(item)
		}
		return out
	case *StreamObj:
		return &StreamObj{Dict: DeepCopy(v.Dict).(*DictObj), Data: append([]byte(nil), v.Data...)}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...), Hex: v.Hex}
	default:
		return obj
	}
}
