package filters

import "github.com/wudi/pdfredact/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
func ExtractFilters(r raw.Resolver, dict *raw.DictObj) ([]string, []*raw.DictObj) {
	var names []string
	var params []*raw.DictObj

	filterObj, ok := dict.Get("Filter")
	if !ok {
		return names, params
	}
	if r != nil {
		filterObj = r.Resolve(filterObj)
	}

	switch f := filterObj.(type) {
	case raw.NameObj:
		names = append(names, f.Val)
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := raw.NameOf(r, item); ok {
				names = append(names, n)
			}
		}
	}

	if len(names) > 0 {
		pObj, ok := dict.Get("DecodeParms")
		if !ok {
			pObj, ok = dict.Get("DP")
		}
		if ok {
			if arr := raw.ArrayOf(r, pObj); arr != nil {
				for _, item := range arr.Items {
					params = append(params, raw.DictOf(r, item))
				}
			} else if d := raw.DictOf(r, pObj); d != nil {
				params = append(params, d)
			}
		}
	}

	return names, params
}
