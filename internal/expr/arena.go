package expr

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"
)

// NodeID identifies an interned expression node within an Arena.
type NodeID int32

// Node is one interned expression node. Children are referenced by id, so
// a subexpression used in several places is stored once.
type Node struct {
	Key      string
	Children []NodeID
	Hash     uint64
}

// Arena hash-conses expressions: structurally identical subtrees intern to
// the same NodeID, so equality is an id comparison and shared
// subexpressions are counted rather than duplicated.
type Arena struct {
	nodes  []Node
	exprs  []Expr
	uses   []int
	byHash map[uint64][]NodeID
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{byHash: make(map[uint64][]NodeID)}
}

// Add interns e and every subexpression, counting one use for each node
// visited.
func (a *Arena) Add(e Expr) NodeID {
	children := e.Children()
	ids := make([]NodeID, len(children))
	for i, c := range children {
		ids[i] = a.Add(c)
	}
	id := a.intern(e, ids)
	a.uses[id]++
	return id
}

// Lookup returns the id of e if it has been interned.
func (a *Arena) Lookup(e Expr) (NodeID, bool) {
	children := e.Children()
	ids := make([]NodeID, len(children))
	for i, c := range children {
		id, ok := a.Lookup(c)
		if !ok {
			return 0, false
		}
		ids[i] = id
	}
	return a.find(nodeKey(e), ids)
}

func (a *Arena) intern(e Expr, children []NodeID) NodeID {
	key := nodeKey(e)
	if id, ok := a.find(key, children); ok {
		return id
	}
	id := NodeID(len(a.nodes))
	h := a.hash(key, children)
	a.nodes = append(a.nodes, Node{Key: key, Children: children, Hash: h})
	a.exprs = append(a.exprs, e)
	a.uses = append(a.uses, 0)
	a.byHash[h] = append(a.byHash[h], id)
	return id
}

func (a *Arena) find(key string, children []NodeID) (NodeID, bool) {
	for _, id := range a.byHash[a.hash(key, children)] {
		n := a.nodes[id]
		if n.Key == key && sameIDs(n.Children, children) {
			return id, true
		}
	}
	return 0, false
}

func (a *Arena) hash(key string, children []NodeID) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte(key))
	var buf [8]byte
	for _, c := range children {
		binary.LittleEndian.PutUint64(buf[:], a.nodes[c].Hash)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func sameIDs(a, b []NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Node returns the interned node.
func (a *Arena) Node(id NodeID) Node { return a.nodes[id] }

// Expr returns the first expression interned under id.
func (a *Arena) Expr(id NodeID) Expr { return a.exprs[id] }

// Uses returns how many times id was reached by Add.
func (a *Arena) Uses(id NodeID) int { return a.uses[id] }

// Len returns the number of distinct nodes.
func (a *Arena) Len() int { return len(a.nodes) }

// Hash returns the structural hash of e. Identical expressions hash equal
// regardless of column binding.
func Hash(e Expr) uint64 {
	a := NewArena()
	return a.Node(a.Add(e)).Hash
}

// Equal reports whether two expressions are structurally identical.
func Equal(x, y Expr) bool {
	if x == nil || y == nil {
		return x == y
	}
	if nodeKey(x) != nodeKey(y) {
		return false
	}
	xc, yc := x.Children(), y.Children()
	if len(xc) != len(yc) {
		return false
	}
	for i := range xc {
		if !Equal(xc[i], yc[i]) {
			return false
		}
	}
	return true
}

// nodeKey encodes everything about a node except its children.
func nodeKey(e Expr) string {
	switch n := e.(type) {
	case *Column:
		return "col:" + n.Name
	case *Literal:
		return fmt.Sprintf("lit:%s:%T:%s", n.Type, n.Value, n.String())
	case *Binary:
		return "bin:" + n.Op.String()
	case *Unary:
		return "un:" + n.Op.String()
	case *Function:
		var b strings.Builder
		b.WriteString("fn:")
		b.WriteString(n.Name)
		for _, k := range sortedKeys(n.Options) {
			b.WriteString(";" + k + "=" + n.Options[k])
		}
		return b.String()
	case *Agg:
		if n.Input == nil {
			return "agg:" + n.Func.String() + ":rows"
		}
		return "agg:" + n.Func.String()
	case *Window:
		key := "win:" + strconv.Itoa(len(n.PartitionBy)) + ":" + strconv.Itoa(len(n.OrderBy))
		if n.Frame != nil {
			key += fmt.Sprintf(":%d,%d", n.Frame.Start, n.Frame.End)
		}
		return key
	case *Alias:
		return "alias:" + n.Name
	case *Cast:
		return fmt.Sprintf("cast:%s:%t", n.To, n.Strict)
	case *SortBy:
		return fmt.Sprintf("sort:%t:%t", n.Descending, n.NullsLast)
	case *Selector:
		return "sel:" + n.String()
	}
	return fmt.Sprintf("?%T", e)
}
