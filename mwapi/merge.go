package mwapi

// MergePolicy decides how array elements are combined across continuation pages.
//
// EntityKey is asked about every element of an array found at path (object keys from the root).
// When it returns ok for an element, elements with the same key are merged into one entry instead
// of being appended. A nil EntityKey concatenates every array.
type MergePolicy struct {
	EntityKey func(path []string, elem *Node) (key string, ok bool)
}

// DefaultMergePolicy recognises formatversion=2 page lists (arrays under a "pages" key).
// Page-ID keyed objects (formatversion=1) need no special case: objects always merge per key.
var DefaultMergePolicy = MergePolicy{EntityKey: PageEntityKey}

// ConcatMergePolicy concatenates every array.
var ConcatMergePolicy = MergePolicy{}

// PageEntityKey identifies page entries by pageid, falling back to namespace and title
// for missing or invalid pages.
func PageEntityKey(path []string, elem *Node) (string, bool) {
	if len(path) == 0 || path[len(path)-1] != "pages" {
		return "", false
	}
	if elem.Kind() != KindObject {
		return "", false
	}
	if id, err := elem.Get("pageid"); err == nil && id.Kind() == KindNumber {
		return "id:" + id.Text(), true
	}
	if title, err := elem.Get("title"); err == nil && title.Kind() == KindString {
		ns, _ := elem.Get("ns")
		return "title:" + ns.Text() + ":" + title.Text(), true
	}
	return "", false
}

// Merge combines two pages with DefaultMergePolicy.
func Merge(old, next *Node) *Node {
	return DefaultMergePolicy.Merge(old, next)
}

// Merge returns a new tree; neither input is modified. Objects merge key by key,
// arrays concatenate (or merge per entity), and anything else takes the newer value.
func (p MergePolicy) Merge(old, next *Node) *Node {
	return p.merge(nil, old, next)
}

func (p MergePolicy) merge(path []string, a, b *Node) *Node {
	switch {
	case b == nil:
		return a.Clone()
	case a == nil:
		return b.Clone()
	case a.Kind() == KindObject && b.Kind() == KindObject:
		out := a.Clone()
		for _, k := range b.keys {
			out.Set(k, p.merge(childPath(path, k), out.fields[k], b.fields[k]))
		}
		return out
	case a.Kind() == KindArray && b.Kind() == KindArray:
		return p.mergeArrays(path, a, b)
	default:
		return b.Clone()
	}
}

func (p MergePolicy) mergeArrays(path []string, a, b *Node) *Node {
	out := a.Clone()
	if p.EntityKey == nil {
		for _, el := range b.elems {
			out.elems = append(out.elems, el.Clone())
		}
		return out
	}

	index := make(map[string]int, len(out.elems))
	for i, el := range out.elems {
		if key, ok := p.EntityKey(path, el); ok {
			if _, dup := index[key]; !dup {
				index[key] = i
			}
		}
	}
	for _, el := range b.elems {
		key, ok := p.EntityKey(path, el)
		if !ok {
			out.elems = append(out.elems, el.Clone())
			continue
		}
		if i, seen := index[key]; seen {
			out.elems[i] = p.merge(path, out.elems[i], el)
			continue
		}
		index[key] = len(out.elems)
		out.elems = append(out.elems, el.Clone())
	}
	return out
}

func childPath(path []string, key string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = key
	return out
}
