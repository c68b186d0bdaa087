package normalizer

// PrefixMatcher finds the longest user-defined symbol that prefixes a string.
// The normalizer uses it to pass user-defined symbols through unnormalized,
// and the BPE kernel uses it to segment them ahead of its merges. The other
// kernels do not consult it.
type PrefixMatcher struct {
	root *matcherNode
}

type matcherNode struct {
	children map[byte]*matcherNode
	end      bool
}

// NewPrefixMatcher builds a matcher over the given words. Empty words are
// ignored.
func NewPrefixMatcher(words []string) *PrefixMatcher {
	m := &PrefixMatcher{root: &matcherNode{children: make(map[byte]*matcherNode)}}
	for _, w := range words {
		if w == "" {
			continue
		}
		node := m.root
		for i := 0; i < len(w); i++ {
			child, ok := node.children[w[i]]
			if !ok {
				child = &matcherNode{children: make(map[byte]*matcherNode)}
				node.children[w[i]] = child
			}
			node = child
		}
		node.end = true
	}
	return m
}

// PrefixMatch returns the byte length of the longest word prefixing s.
func (m *PrefixMatcher) PrefixMatch(s string) (int, bool) {
	if m == nil || m.root == nil {
		return 0, false
	}
	longest := 0
	node := m.root
	for i := 0; i < len(s); i++ {
		child, ok := node.children[s[i]]
		if !ok {
			break
		}
		if child.end {
			longest = i + 1
		}
		node = child
	}
	return longest, longest > 0
}
