package chart

import (
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Tree is an id-indexed arena over the chart of accounts used to compute
// positional full numbers. Numbers depend on a node's rank within the
// collated pre-order walk of its root's subtree, so the whole type-tree is
// renumbered eagerly on every structural mutation.
type Tree struct {
	headers  map[int64]*Header
	accounts map[int64]*Account
	children map[int64][]*Header
	attached map[int64][]*Account
	roots    []*Header
	collator *collate.Collator
}

// NewTree builds the arena from a snapshot of all headers and accounts.
func NewTree(headers []Header, accounts []Account) *Tree {
	t := &Tree{
		headers:  make(map[int64]*Header, len(headers)),
		accounts: make(map[int64]*Account, len(accounts)),
		children: make(map[int64][]*Header),
		attached: make(map[int64][]*Account),
		collator: collate.New(language.English, collate.IgnoreCase),
	}
	for i := range headers {
		h := headers[i]
		t.headers[h.ID] = &h
	}
	for i := range accounts {
		a := accounts[i]
		t.accounts[a.ID] = &a
	}
	for _, h := range t.headers {
		if h.ParentID == nil {
			t.roots = append(t.roots, h)
		} else {
			t.children[*h.ParentID] = append(t.children[*h.ParentID], h)
		}
	}
	for _, a := range t.accounts {
		t.attached[a.ParentID] = append(t.attached[a.ParentID], a)
	}
	t.sortArena()
	return t
}

func (t *Tree) sortArena() {
	sort.Slice(t.roots, func(i, j int) bool {
		return t.collator.CompareString(t.roots[i].Name, t.roots[j].Name) < 0
	})
	for id := range t.children {
		siblings := t.children[id]
		sort.Slice(siblings, func(i, j int) bool {
			return t.collator.CompareString(siblings[i].Name, siblings[j].Name) < 0
		})
	}
	for id := range t.attached {
		siblings := t.attached[id]
		sort.Slice(siblings, func(i, j int) bool {
			return t.collator.CompareString(siblings[i].Name, siblings[j].Name) < 0
		})
	}
}

// Numbering carries recomputed full numbers and inherited types keyed by id.
type Numbering struct {
	HeaderNumbers  map[int64]string
	AccountNumbers map[int64]string
	HeaderTypes    map[int64]AccountType
	AccountTypes   map[int64]AccountType
}

// Renumber walks every root subtree and derives full numbers and inherited
// types for all nodes. A cycle or an orphaned parent reference breaks the
// tree-mutation contract and is returned as a hard error.
func (t *Tree) Renumber() (Numbering, error) {
	n := Numbering{
		HeaderNumbers:  make(map[int64]string, len(t.headers)),
		AccountNumbers: make(map[int64]string, len(t.accounts)),
		HeaderTypes:    make(map[int64]AccountType, len(t.headers)),
		AccountTypes:   make(map[int64]AccountType, len(t.accounts)),
	}
	for _, h := range t.headers {
		if h.ParentID != nil {
			if _, ok := t.headers[*h.ParentID]; !ok {
				return Numbering{}, fmt.Errorf("chart: numbering: header %d has orphaned parent %d", h.ID, *h.ParentID)
			}
		}
	}
	for _, a := range t.accounts {
		if _, ok := t.headers[a.ParentID]; !ok {
			return Numbering{}, fmt.Errorf("chart: numbering: account %d has orphaned parent %d", a.ID, a.ParentID)
		}
	}
	seen := make(map[int64]bool, len(t.headers))
	for _, root := range t.roots {
		if !root.Type.Valid() {
			return Numbering{}, fmt.Errorf("chart: numbering: root header %d has no type", root.ID)
		}
		index := 0
		if err := t.walk(root, root.Type, &index, seen, &n); err != nil {
			return Numbering{}, err
		}
	}
	if len(seen) != len(t.headers) {
		return Numbering{}, fmt.Errorf("chart: numbering: %d headers unreachable from any root", len(t.headers)-len(seen))
	}
	return n, nil
}

// maxPositional is the largest rank a two-digit positional code can carry:
// 99 headers per type tree and 99 accounts per header.
const maxPositional = 99

func (t *Tree) walk(h *Header, typ AccountType, index *int, seen map[int64]bool, n *Numbering) error {
	if seen[h.ID] {
		return fmt.Errorf("chart: numbering: cycle at header %d", h.ID)
	}
	seen[h.ID] = true
	if *index > maxPositional {
		return fmt.Errorf("chart: numbering: type %d exceeds %d headers", typ, maxPositional)
	}
	code := fmt.Sprintf("%d-%02d00", typ, *index)
	n.HeaderNumbers[h.ID] = code
	n.HeaderTypes[h.ID] = typ
	for rank, a := range t.attached[h.ID] {
		if rank+1 > maxPositional {
			return fmt.Errorf("chart: numbering: header %d exceeds %d accounts", h.ID, maxPositional)
		}
		n.AccountNumbers[a.ID] = fmt.Sprintf("%s%02d", code[:len(code)-2], rank+1)
		n.AccountTypes[a.ID] = typ
	}
	for _, child := range t.children[h.ID] {
		*index++
		if err := t.walk(child, typ, index, seen, n); err != nil {
			return err
		}
	}
	return nil
}

// PathContains reports whether candidate sits in the subtree rooted at
// headerID, used to reject re-parent cycles before mutating.
func (t *Tree) PathContains(headerID, candidate int64) bool {
	if headerID == candidate {
		return true
	}
	for _, child := range t.children[headerID] {
		if t.PathContains(child.ID, candidate) {
			return true
		}
	}
	return false
}
