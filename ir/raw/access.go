package raw

// Accessors that resolve references through r before type-asserting.
// A nil resolver only sees direct objects.

func resolve(r Resolver, obj Object) Object {
	if obj == nil {
		return NullObj{}
	}
	if r == nil {
		return obj
	}
	return r.Resolve(obj)
}

func DictOf(r Resolver, obj Object) *DictObj {
	switch v := resolve(r, obj).(type) {
	case *DictObj:
		return v
	case *StreamObj:
		return v.Dict
	}
	return nil
}

func ArrayOf(r Resolver, obj Object) *ArrayObj {
	a, _ := resolve(r, obj).(*ArrayObj)
	return a
}

func StreamOf(r Resolver, obj Object) *StreamObj {
	s, _ := resolve(r, obj).(*StreamObj)
	return s
}

func NameOf(r Resolver, obj Object) (string, bool) {
	n, ok := resolve(r, obj).(NameObj)
	return n.Val, ok
}

func NumberOf(r Resolver, obj Object) (float64, bool) {
	n, ok := resolve(r, obj).(NumberObj)
	return n.Float(), ok
}

func IntOf(r Resolver, obj Object) (int64, bool) {
	n, ok := resolve(r, obj).(NumberObj)
	return n.Int(), ok
}

func StringOf(r Resolver, obj Object) ([]byte, bool) {
	s, ok := resolve(r, obj).(StringObj)
	return s.Bytes, ok
}

// Lookup helpers on dictionaries.

func (d *DictObj) Dict(r Resolver, key string) *DictObj {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	return DictOf(r, v)
}

func (d *DictObj) Array(r Resolver, key string) *ArrayObj {
	v, ok := d.Get(key)
	if !ok {
		return nil
	}
	return ArrayOf(r, v)
}

func (d *DictObj) Name(r Resolver, key string) string {
	v, ok := d.Get(key)
	if !ok {
		return ""
	}
	n, _ := NameOf(r, v)
	return n
}

func (d *DictObj) Number(r Resolver, key string, def float64) float64 {
	v, ok := d.Get(key)
	if !ok {
		return def
	}
	if n, ok := NumberOf(r, v); ok {
		return n
	}
	return def
}

func (d *DictObj) Int(r Resolver, key string, def int64) int64 {
	v, ok := d.Get(key)
	if !ok {
		return def
	}
	if n, ok := IntOf(r, v); ok {
		return n
	}
	return def
}

// Floats converts an array of numbers; non-numeric entries become 0.
func (a *ArrayObj) Floats(r Resolver) []float64 {
	if a == nil {
		return nil
	}
	out := make([]float64, len(a.Items))
	for i, item := range a.Items {
		out[i], _ = NumberOf(r, item)
	}
	return out
}
