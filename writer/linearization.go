package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfredact/ir/raw"
)

// linearizer lays out objects as: linearization dictionary, first-page
// xref, catalog and first-page objects, hint stream, remaining pages in
// page order, shared objects, everything else, main xref.
type linearizer struct {
	objects map[raw.ObjectRef]raw.Object
	catalog raw.ObjectRef

	pageList   []raw.ObjectRef
	page1Refs  map[raw.ObjectRef]bool
	sharedRefs map[raw.ObjectRef]bool
	// objects used by exactly one page other than the first, per page
	pageObjects []map[raw.ObjectRef]bool

	renumber map[raw.ObjectRef]raw.ObjectRef
	// sections in the new numbering
	page1  []raw.ObjectRef
	hint   raw.ObjectRef
	pages  [][]raw.ObjectRef // index 0 unused
	shared []raw.ObjectRef
	other  []raw.ObjectRef
}

func newLinearizer(objects map[raw.ObjectRef]raw.Object, catalog raw.ObjectRef) *linearizer {
	return &linearizer{
		objects:    objects,
		catalog:    catalog,
		page1Refs:  make(map[raw.ObjectRef]bool),
		sharedRefs: make(map[raw.ObjectRef]bool),
		renumber:   make(map[raw.ObjectRef]raw.ObjectRef),
	}
}

func (l *linearizer) classify() error {
	catDict, ok := l.objects[l.catalog].(*raw.DictObj)
	if !ok {
		return errors.New("catalog not a dict")
	}
	pagesObj, ok := catDict.Get("Pages")
	if !ok {
		return errors.New("Pages missing in catalog")
	}
	pagesRef, ok := pagesObj.(raw.RefObj)
	if !ok {
		return errors.New("Pages not a ref")
	}
	var ancestors []raw.ObjectRef
	l.pageList, ancestors = l.collectPages(pagesRef.R)
	if len(l.pageList) == 0 {
		return errors.New("no pages found")
	}

	usage := make(map[raw.ObjectRef]int)
	perPage := make([]map[raw.ObjectRef]bool, len(l.pageList))
	for i, page := range l.pageList {
		perPage[i] = make(map[raw.ObjectRef]bool)
		l.traverse(page, page, perPage[i])
		for ref := range perPage[i] {
			usage[ref]++
		}
	}

	l.page1Refs[l.catalog] = true
	for _, a := range ancestors {
		l.page1Refs[a] = true
	}
	for ref := range perPage[0] {
		if usage[ref] == 1 {
			l.page1Refs[ref] = true
		} else {
			l.sharedRefs[ref] = true
		}
	}
	l.pageObjects = make([]map[raw.ObjectRef]bool, len(l.pageList))
	for i := 1; i < len(l.pageList); i++ {
		l.pageObjects[i] = make(map[raw.ObjectRef]bool)
		for ref := range perPage[i] {
			if l.page1Refs[ref] {
				continue
			}
			if usage[ref] > 1 {
				l.sharedRefs[ref] = true
			} else {
				l.pageObjects[i][ref] = true
			}
		}
	}
	return nil
}

// collectPages returns the leaf pages in order and the page tree nodes on
// the path to the first page.
func (l *linearizer) collectPages(root raw.ObjectRef) ([]raw.ObjectRef, []raw.ObjectRef) {
	var list, firstPath []raw.ObjectRef
	visited := make(map[raw.ObjectRef]bool)
	var visit func(ref raw.ObjectRef, path []raw.ObjectRef)
	visit = func(ref raw.ObjectRef, path []raw.ObjectRef) {
		if visited[ref] {
			return
		}
		visited[ref] = true
		dict, ok := l.objects[ref].(*raw.DictObj)
		if !ok {
			return
		}
		switch dict.Name(nil, "Type") {
		case "Page":
			if len(list) == 0 {
				firstPath = append([]raw.ObjectRef(nil), path...)
			}
			list = append(list, ref)
		case "Pages":
			kids := dict.Array(nil, "Kids")
			if kids == nil {
				return
			}
			next := append(append([]raw.ObjectRef(nil), path...), ref)
			for _, item := range kids.Items {
				if kRef, ok := item.(raw.RefObj); ok {
					visit(kRef.R, next)
				}
			}
		}
	}
	visit(root, nil)
	return list, firstPath
}

// traverse marks everything reachable from ref without entering the page
// tree or other pages (link destinations point at them).
func (l *linearizer) traverse(page, ref raw.ObjectRef, visited map[raw.ObjectRef]bool) {
	if visited[ref] {
		return
	}
	obj, ok := l.objects[ref]
	if !ok || (ref != page && l.isPageNode(obj)) {
		return
	}
	visited[ref] = true
	for _, r := range refsOf(obj) {
		l.traverse(page, r, visited)
	}
}

func (l *linearizer) isPageNode(obj raw.Object) bool {
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	t := d.Name(nil, "Type")
	return t == "Page" || t == "Pages"
}

func sortedSet(set map[raw.ObjectRef]bool) []raw.ObjectRef {
	out := make([]raw.ObjectRef, 0, len(set))
	for ref := range set {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// renumberObjects assigns the final numbers; 1 is the linearization
// dictionary.
func (l *linearizer) renumberObjects() map[raw.ObjectRef]raw.Object {
	next := 2
	assign := func(old raw.ObjectRef) raw.ObjectRef {
		nr := raw.ObjectRef{Num: next}
		next++
		l.renumber[old] = nr
		return nr
	}

	// catalog first, then the first page object, then the rest of page 1
	l.page1 = append(l.page1, assign(l.catalog))
	l.page1 = append(l.page1, assign(l.pageList[0]))
	for _, ref := range sortedSet(l.page1Refs) {
		if _, done := l.renumber[ref]; !done {
			l.page1 = append(l.page1, assign(ref))
		}
	}
	l.hint = raw.ObjectRef{Num: next}
	next++

	l.pages = make([][]raw.ObjectRef, len(l.pageList))
	for i := 1; i < len(l.pageList); i++ {
		l.pages[i] = append(l.pages[i], assign(l.pageList[i]))
		for _, ref := range sortedSet(l.pageObjects[i]) {
			if _, done := l.renumber[ref]; !done {
				l.pages[i] = append(l.pages[i], assign(ref))
			}
		}
	}
	for _, ref := range sortedSet(l.sharedRefs) {
		if _, done := l.renumber[ref]; !done {
			l.shared = append(l.shared, assign(ref))
		}
	}
	rest := make(map[raw.ObjectRef]bool)
	for ref := range l.objects {
		if _, done := l.renumber[ref]; !done {
			rest[ref] = true
		}
	}
	for _, ref := range sortedSet(rest) {
		l.other = append(l.other, assign(ref))
	}

	out := make(map[raw.ObjectRef]raw.Object, len(l.objects)+2)
	for old, obj := range l.objects {
		out[l.renumber[old]] = rewriteRefs(obj, l.renumber)
	}
	return out
}

// layout is the byte placement computed during one sizing pass.
type layout struct {
	offsets   map[int]int64
	lengths   map[int]int64
	fpXRef    int64
	mainXRef  int64
	endOfPage int64
	fileLen   int64
}

func writeLinearized(ctx context.Context, set *objectSet, version string, buf *bytes.Buffer) error {
	l := newLinearizer(set.objects, set.catalog)
	if err := l.classify(); err != nil {
		return fmt.Errorf("linearize: %w", err)
	}
	objects := l.renumberObjects()
	linRef := raw.ObjectRef{Num: 1}
	lastP1 := l.hint.Num

	// the trailer refers to the renumbered catalog
	tset := &objectSet{catalog: l.renumber[set.catalog], id0: set.id0}
	if set.info != nil {
		nr := l.renumber[*set.info]
		tset.info = &nr
	}

	linDict := raw.Dict()
	hintStream := raw.NewStream(raw.Dict(), nil)
	objects[linRef] = linDict
	objects[l.hint] = hintStream
	total := len(objects) + 1 // xref size counts object 0

	order := []raw.ObjectRef{linRef}
	order = append(order, l.page1...)
	order = append(order, l.hint)
	for i := 1; i < len(l.pages); i++ {
		order = append(order, l.pages[i]...)
	}
	order = append(order, l.shared...)
	order = append(order, l.other...)

	hdr := header(version)
	var lay layout
	var id1 []byte
	var prev layout
	for pass := 0; pass < 12; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lay = layout{offsets: make(map[int]int64), lengths: make(map[int]int64)}
		for _, ref := range order {
			lay.lengths[ref.Num] = int64(len(SerializeObject(ref, objects[ref])))
		}
		pos := int64(len(hdr))
		lay.offsets[linRef.Num] = pos
		pos += lay.lengths[linRef.Num]
		lay.fpXRef = pos
		pos += int64(len(firstPageXRef(tset, total, lastP1, prev, id1)))
		for _, ref := range order[1:] {
			if ref == l.hint {
				lay.endOfPage = pos
			}
			lay.offsets[ref.Num] = pos
			pos += lay.lengths[ref.Num]
		}
		lay.mainXRef = pos
		pos += int64(len(mainXRef(total, lastP1, lay)))
		lay.fileLen = pos

		if id1 == nil {
			var serialized [][]byte
			for _, ref := range order[1:] {
				if ref != l.hint {
					serialized = append(serialized, SerializeObject(ref, objects[ref]))
				}
			}
			id1 = fileID(serialized)
		}

		hintData, sharedOffset := l.hintTables(lay)
		hintStream.Data = hintData
		hintStream.Dict.Set("S", raw.Int(sharedOffset))

		linDict.Set("Linearized", raw.Int(1))
		linDict.Set("L", raw.Int(lay.fileLen))
		linDict.Set("H", raw.NewArray(raw.Int(lay.offsets[l.hint.Num]), raw.Int(lay.lengths[l.hint.Num])))
		linDict.Set("O", raw.Int(int64(l.renumber[l.pageList[0]].Num)))
		linDict.Set("E", raw.Int(lay.endOfPage))
		linDict.Set("N", raw.Int(int64(len(l.pageList))))
		linDict.Set("T", raw.Int(lay.mainXRef))

		if pass > 0 && sameLayout(prev, lay) {
			break
		}
		prev = lay
	}

	buf.Write(hdr)
	buf.Write(SerializeObject(linRef, linDict))
	buf.Write(firstPageXRef(tset, total, lastP1, lay, id1))
	for _, ref := range order[1:] {
		buf.Write(SerializeObject(ref, objects[ref]))
	}
	buf.Write(mainXRef(total, lastP1, lay))
	if int64(buf.Len()) != lay.fileLen {
		return fmt.Errorf("linearize: layout did not converge (%d != %d)", buf.Len(), lay.fileLen)
	}
	return nil
}

func sameLayout(a, b layout) bool {
	if a.fileLen != b.fileLen || a.mainXRef != b.mainXRef || a.fpXRef != b.fpXRef || len(a.offsets) != len(b.offsets) {
		return false
	}
	for k, v := range a.offsets {
		if b.offsets[k] != v {
			return false
		}
	}
	return true
}

func firstPageXRef(set *objectSet, total, lastP1 int, lay layout, id1 []byte) []byte {
	var buf bytes.Buffer
	writeXRefSection(&buf, 0, lastP1+1, lay.offsets)
	t := buildTrailer(set, total, id1)
	t.Set("Prev", raw.Int(lay.mainXRef))
	buf.WriteString("trailer\n")
	buf.Write(AppendObject(nil, t))
	buf.WriteString("\nstartxref\n0\n%%EOF\n")
	return buf.Bytes()
}

func mainXRef(total, lastP1 int, lay layout) []byte {
	var buf bytes.Buffer
	writeXRefSection(&buf, lastP1+1, total-lastP1-1, lay.offsets)
	t := raw.Dict()
	t.Set("Size", raw.Int(int64(total)))
	buf.WriteString("trailer\n")
	buf.Write(AppendObject(nil, t))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", lay.fpXRef)
	return buf.Bytes()
}

// hintTables builds the page offset and shared object hint tables. It
// returns the stream data and the offset of the shared object table in it.
func (l *linearizer) hintTables(lay layout) ([]byte, int64) {
	n := len(l.pageList)
	nObjects := make([]int64, n)
	lengths := make([]int64, n)
	for _, ref := range l.page1 {
		nObjects[0]++
		lengths[0] += lay.lengths[ref.Num]
	}
	for i := 1; i < n; i++ {
		for _, ref := range l.pages[i] {
			nObjects[i]++
			lengths[i] += lay.lengths[ref.Num]
		}
	}

	// shared groups: first-page objects, then the shared section
	sharedIdx := make(map[raw.ObjectRef]int)
	for i, ref := range l.shared {
		sharedIdx[ref] = len(l.page1) + i
	}
	pageShared := make([][]int, n)
	for i := 1; i < n; i++ {
		seen := make(map[int]bool)
		visited := make(map[raw.ObjectRef]bool)
		var visit func(old raw.ObjectRef)
		visit = func(old raw.ObjectRef) {
			if visited[old] {
				return
			}
			visited[old] = true
			if l.sharedRefs[old] {
				seen[sharedIdx[l.renumber[old]]] = true
				return
			}
			obj, ok := l.objects[old]
			if !ok || (old != l.pageList[i] && l.isPageNode(obj)) {
				return
			}
			for _, r := range refsOf(obj) {
				visit(r)
			}
		}
		visit(l.pageList[i])
		for idx := range seen {
			pageShared[i] = append(pageShared[i], idx)
		}
		sort.Ints(pageShared[i])
	}

	minObjs, maxObjs := minMax(nObjects)
	minLen, maxLen := minMax(lengths)
	var maxShared, maxSharedID int64
	for _, ids := range pageShared {
		if int64(len(ids)) > maxShared {
			maxShared = int64(len(ids))
		}
		for _, id := range ids {
			if int64(id) > maxSharedID {
				maxSharedID = int64(id)
			}
		}
	}
	bitsObjs := bitsNeeded(maxObjs - minObjs)
	bitsLen := bitsNeeded(maxLen - minLen)
	bitsNShared := bitsNeeded(maxShared)
	bitsSharedID := bitsNeeded(maxSharedID)

	var buf bytes.Buffer
	bw := newBitWriter(&buf)
	bw.write(uint64(minObjs), 32)
	bw.write(uint64(lay.offsets[l.renumber[l.pageList[0]].Num]), 32)
	bw.write(uint64(bitsObjs), 16)
	bw.write(uint64(minLen), 32)
	bw.write(uint64(bitsLen), 16)
	bw.write(0, 32) // least content stream offset
	bw.write(0, 16)
	bw.write(0, 32) // least content stream length
	bw.write(0, 16)
	bw.write(uint64(bitsNShared), 16)
	bw.write(uint64(bitsSharedID), 16)
	bw.write(0, 16) // numerator bits
	bw.write(1, 16) // denominator

	// entries are stored item by item across all pages
	for i := 0; i < n; i++ {
		bw.write(uint64(nObjects[i]-minObjs), uint(bitsObjs))
	}
	bw.flush()
	for i := 0; i < n; i++ {
		bw.write(uint64(lengths[i]-minLen), uint(bitsLen))
	}
	bw.flush()
	for i := 0; i < n; i++ {
		bw.write(uint64(len(pageShared[i])), uint(bitsNShared))
	}
	bw.flush()
	for i := 0; i < n; i++ {
		for _, id := range pageShared[i] {
			bw.write(uint64(id), uint(bitsSharedID))
		}
	}
	bw.flush()
	sharedOffset := int64(buf.Len())

	groups := append(append([]raw.ObjectRef(nil), l.page1...), l.shared...)
	groupLens := make([]int64, len(groups))
	for i, ref := range groups {
		groupLens[i] = lay.lengths[ref.Num]
	}
	minG, maxG := minMax(groupLens)
	bitsG := bitsNeeded(maxG - minG)
	var firstShared, firstSharedOff int64
	if len(l.shared) > 0 {
		firstShared = int64(l.shared[0].Num)
		firstSharedOff = lay.offsets[l.shared[0].Num]
	}
	bw.write(uint64(firstShared), 32)
	bw.write(uint64(firstSharedOff), 32)
	bw.write(uint64(len(l.page1)), 32)
	bw.write(uint64(len(groups)), 32)
	bw.write(0, 16) // one object per group
	bw.write(uint64(minG), 32)
	bw.write(uint64(bitsG), 16)
	for _, gl := range groupLens {
		bw.write(uint64(gl-minG), uint(bitsG))
	}
	bw.flush()
	for range groups {
		bw.write(0, 1) // no signatures
	}
	bw.flush()
	return buf.Bytes(), sharedOffset
}

func minMax(vals []int64) (int64, int64) {
	if len(vals) == 0 {
		return 0, 0
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func bitsNeeded(val int64) int {
	bits := 0
	for val > 0 {
		bits++
		val >>= 1
	}
	return bits
}

type bitWriter struct {
	buf         *bytes.Buffer
	accumulator uint64
	bits        uint
}

func newBitWriter(buf *bytes.Buffer) *bitWriter {
	return &bitWriter{buf: buf}
}

func (w *bitWriter) write(val uint64, n uint) {
	if n == 0 {
		return
	}
	w.accumulator = (w.accumulator << n) | (val & ((1 << n) - 1))
	w.bits += n
	for w.bits >= 8 {
		w.bits -= 8
		w.buf.WriteByte(byte(w.accumulator >> w.bits))
	}
}

func (w *bitWriter) flush() {
	if w.bits > 0 {
		w.accumulator <<= (8 - w.bits)
		w.buf.WriteByte(byte(w.accumulator))
		w.bits = 0
		w.accumulator = 0
	}
}
