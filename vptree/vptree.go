package vptree

import (
	"container/heap"
	"iter"
	"math"
	"math/rand/v2"

	"github.com/alexgQQ/imagehash/hash"
)

// A vantage point tree partitions items by their distance to a chosen point
// so a radius or nearest neighbour search can skip whole branches.
// Hamming distance is a proper metric so it fits here.
// https://fribbels.github.io/vptree/writeup

type Item struct {
	ID   uint
	Path string
	Hash *hash.Hash
}

type Node struct {
	Item      *Item
	Threshold float64
	Left      *Node
	Right     *Node
}

// Items holding hashes of different kinds or sizes are infinitely far apart
func distance(a *Item, b *Item) float64 {
	d, err := hash.Distance(a.Hash, b.Hash)
	if err != nil {
		return math.Inf(1)
	}
	return float64(d)
}

type VPTree struct {
	root *Node
	size int
}

// New builds a tree from items. The slice is copied so the caller's order is kept.
func New(items []*Item) *VPTree {
	work := make([]*Item, len(items))
	copy(work, items)
	t := &VPTree{size: len(items)}
	t.root = t.build(work)
	return t
}

func (vp *VPTree) Len() int {
	return vp.size
}

// All walks every item in the tree, vantage points first.
func (vp *VPTree) All() iter.Seq[*Item] {
	return func(yield func(*Item) bool) {
		var traverse func(n *Node) bool
		traverse = func(n *Node) bool {
			if n == nil {
				return true
			}
			if !yield(n.Item) {
				return false
			}
			return traverse(n.Left) && traverse(n.Right)
		}
		traverse(vp.root)
	}
}

// Search returns the k items closest to target, nearest first.
func (vp *VPTree) Search(target *Item, k int) ([]*Item, []float64) {
	var results []*Item
	var distances []float64
	if k <= 0 {
		return results, distances
	}

	q := make(queue, 0, k)

	tau := math.MaxFloat64
	vp.search(vp.root, &tau, target, k, &q)

	for q.Len() > 0 {
		hi := heap.Pop(&q).(*QueueItem)
		results = append(results, hi.Item)
		distances = append(distances, hi.Dist)
	}

	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
		distances[i], distances[j] = distances[j], distances[i]
	}
	return results, distances
}

// Within returns every item closer than radius to target, excluding the target itself.
// Results are not sorted.
func (vp *VPTree) Within(target *Item, radius float64) ([]*Item, []float64) {
	var results []*Item
	var distances []float64

	q := make(queue, 0, 16)
	vp.within(vp.root, radius, target, &q)

	for _, qi := range q {
		if qi.Item.ID != target.ID {
			results = append(results, qi.Item)
			distances = append(distances, qi.Dist)
		}
	}
	return results, distances
}

func (vp *VPTree) build(items []*Item) *Node {
	// Since this is called recursively there could be an empty slice that comes through here
	if len(items) == 0 {
		return nil
	}

	n := &Node{}
	idx := rand.IntN(len(items))
	n.Item = items[idx]
	items[idx], items = items[len(items)-1], items[:len(items)-1]

	if len(items) > 0 {
		median := len(items) / 2
		pivotDist := distance(items[median], n.Item)
		items[median], items[len(items)-1] = items[len(items)-1], items[median]

		storeIndex := 0
		for i := 0; i < len(items)-1; i++ {
			if distance(items[i], n.Item) <= pivotDist {
				items[storeIndex], items[i] = items[i], items[storeIndex]
				storeIndex++
			}
		}
		items[len(items)-1], items[storeIndex] = items[storeIndex], items[len(items)-1]
		median = storeIndex

		n.Threshold = pivotDist
		n.Left = vp.build(items[:median])
		n.Right = vp.build(items[median:])
	}
	return n
}

func (vp *VPTree) search(n *Node, tau *float64, target *Item, k int, q *queue) {
	// This comes through as nil when we've reached the end of a branch
	if n == nil {
		return
	}

	dist := distance(n.Item, target)

	if dist < *tau {
		if q.Len() == k {
			heap.Pop(q)
		}
		heap.Push(q, &QueueItem{n.Item, dist})
		if q.Len() == k {
			*tau = q.Top().Dist
		}
	}

	if n.Left == nil && n.Right == nil {
		return
	}

	if dist < n.Threshold {
		if dist-*tau <= n.Threshold {
			vp.search(n.Left, tau, target, k, q)
		}

		if dist+*tau >= n.Threshold {
			vp.search(n.Right, tau, target, k, q)
		}
	} else {
		if dist+*tau >= n.Threshold {
			vp.search(n.Right, tau, target, k, q)
		}

		if dist-*tau <= n.Threshold {
			vp.search(n.Left, tau, target, k, q)
		}
	}
}

func (vp *VPTree) within(n *Node, tau float64, target *Item, q *queue) {
	if n == nil {
		return
	}

	dist := distance(n.Item, target)

	if dist < tau {
		*q = append(*q, &QueueItem{n.Item, dist})
	}

	if n.Left == nil && n.Right == nil {
		return
	}

	if dist-tau <= n.Threshold {
		vp.within(n.Left, tau, target, q)
	}
	if dist+tau >= n.Threshold {
		vp.within(n.Right, tau, target, q)
	}
}
