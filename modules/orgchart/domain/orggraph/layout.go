package orggraph

import "fmt"

type Footprint struct {
	Width  float64
	Height float64
}

var footprints = map[NodeType]Footprint{
	NodeCompany:    {Width: 280, Height: 120},
	NodeDepartment: {Width: 240, Height: 96},
	NodeUser:       {Width: 220, Height: 88},
	NodeGhost:      {Width: 160, Height: 64},
}

func FootprintFor(t NodeType) Footprint {
	if fp, ok := footprints[t]; ok {
		return fp
	}
	return footprints[NodeUser]
}

const (
	DefaultRankSpacing    = 80
	DefaultSiblingSpacing = 40
)

type LayoutOptions struct {
	RankSpacing    float64
	SiblingSpacing float64
}

func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{RankSpacing: DefaultRankSpacing, SiblingSpacing: DefaultSiblingSpacing}
}

// LayoutEngine computes a layered tree layout. It holds no mutable state and may be
// shared between goroutines.
type LayoutEngine struct {
	opts LayoutOptions
}

func NewLayoutEngine(opts LayoutOptions) LayoutEngine {
	if opts.RankSpacing <= 0 {
		opts.RankSpacing = DefaultRankSpacing
	}
	if opts.SiblingSpacing <= 0 {
		opts.SiblingSpacing = DefaultSiblingSpacing
	}
	return LayoutEngine{opts: opts}
}

func (e LayoutEngine) Options() LayoutOptions {
	return e.opts
}

// Layout positions nodes with the default spacing.
func Layout(nodes []Node, edges []Edge, dir Direction) ([]PositionedNode, error) {
	return NewLayoutEngine(DefaultLayoutOptions()).Layout(nodes, edges, dir)
}

// Layout assigns each node a rank equal to its depth and an order slot inside its
// parent's interval. Parents sit on the barycenter of their children, clamped so they
// never leave their own subtree interval. Output follows input node order.
func (e LayoutEngine) Layout(nodes []Node, edges []Edge, dir Direction) ([]PositionedNode, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("layout: unknown direction %q", dir)
	}
	if len(nodes) == 0 {
		return []PositionedNode{}, nil
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("layout: duplicate node %s", n.ID)
		}
		index[n.ID] = i
	}

	parent := make([]int, len(nodes))
	for i := range parent {
		parent[i] = -1
	}
	children := make([][]int, len(nodes))
	for _, edge := range edges {
		s, ok := index[edge.Source]
		if !ok {
			return nil, fmt.Errorf("layout: edge %s references unknown node %s", edge.ID, edge.Source)
		}
		t, ok := index[edge.Target]
		if !ok {
			return nil, fmt.Errorf("layout: edge %s references unknown node %s", edge.ID, edge.Target)
		}
		if s == t {
			return nil, fmt.Errorf("layout: self loop on %s", edge.Source)
		}
		if parent[t] == s {
			continue
		}
		if parent[t] >= 0 {
			return nil, fmt.Errorf("layout: node %s has more than one parent", edge.Target)
		}
		parent[t] = s
		children[s] = append(children[s], t)
	}

	p := &placement{
		nodes:    nodes,
		children: children,
		dir:      dir,
		opts:     e.opts,
		depth:    make([]int, len(nodes)),
		span:     make([]float64, len(nodes)),
		center:   make([]float64, len(nodes)),
		visited:  make([]bool, len(nodes)),
	}

	roots := make([]int, 0, 1)
	for i := range nodes {
		if parent[i] < 0 {
			roots = append(roots, i)
		}
	}
	for _, r := range roots {
		p.measure(r, 0)
	}
	for i := range nodes {
		if !p.visited[i] {
			return nil, fmt.Errorf("layout: cycle through node %s", nodes[i].ID)
		}
	}

	start := 0.0
	for _, r := range roots {
		p.place(r, start)
		start += p.span[r] + e.opts.SiblingSpacing
	}

	rankCenter := p.rankCenters()
	out := make([]PositionedNode, len(nodes))
	for i, n := range nodes {
		fp := FootprintFor(n.Type)
		orderPos := p.center[i] - p.orderSize(i)/2
		rankPos := rankCenter[p.depth[i]] - p.rankSize(i)/2

		pn := PositionedNode{Node: n.Clone(), Width: fp.Width, Height: fp.Height}
		if dir == LeftToRight {
			pn.Position = Position{X: rankPos, Y: orderPos}
			pn.SourcePosition = AnchorRight
			pn.TargetPosition = AnchorLeft
		} else {
			pn.Position = Position{X: orderPos, Y: rankPos}
			pn.SourcePosition = AnchorBottom
			pn.TargetPosition = AnchorTop
		}
		out[i] = pn
	}
	return out, nil
}

type placement struct {
	nodes    []Node
	children [][]int
	dir      Direction
	opts     LayoutOptions
	depth    []int
	span     []float64
	center   []float64
	visited  []bool
}

// orderSize is the footprint along the sibling axis, rankSize along the rank axis.
func (p *placement) orderSize(i int) float64 {
	fp := FootprintFor(p.nodes[i].Type)
	if p.dir == LeftToRight {
		return fp.Height
	}
	return fp.Width
}

func (p *placement) rankSize(i int) float64 {
	fp := FootprintFor(p.nodes[i].Type)
	if p.dir == LeftToRight {
		return fp.Width
	}
	return fp.Height
}

// measure is the bottom-up pass: depth and subtree span.
func (p *placement) measure(i, depth int) {
	p.visited[i] = true
	p.depth[i] = depth
	for _, c := range p.children[i] {
		p.measure(c, depth+1)
	}
	own := p.orderSize(i)
	packed := p.childrenSpan(i)
	if packed > own {
		p.span[i] = packed
	} else {
		p.span[i] = own
	}
}

func (p *placement) childrenSpan(i int) float64 {
	kids := p.children[i]
	if len(kids) == 0 {
		return 0
	}
	total := p.opts.SiblingSpacing * float64(len(kids)-1)
	for _, c := range kids {
		total += p.span[c]
	}
	return total
}

// place is the top-down pass over the interval [start, start+span[i]].
func (p *placement) place(i int, start float64) {
	kids := p.children[i]
	if len(kids) == 0 {
		p.center[i] = start + p.span[i]/2
		return
	}

	offset := start + (p.span[i]-p.childrenSpan(i))/2
	sum := 0.0
	for _, c := range kids {
		p.place(c, offset)
		sum += p.center[c]
		offset += p.span[c] + p.opts.SiblingSpacing
	}

	bary := sum / float64(len(kids))
	half := p.orderSize(i) / 2
	lo, hi := start+half, start+p.span[i]-half
	switch {
	case bary < lo:
		bary = lo
	case bary > hi:
		bary = hi
	}
	p.center[i] = bary
}

func (p *placement) rankCenters() []float64 {
	maxDepth := 0
	for _, d := range p.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	extent := make([]float64, maxDepth+1)
	for i, d := range p.depth {
		if s := p.rankSize(i); s > extent[d] {
			extent[d] = s
		}
	}
	centers := make([]float64, maxDepth+1)
	offset := 0.0
	for d := range extent {
		centers[d] = offset + extent[d]/2
		offset += extent[d] + p.opts.RankSpacing
	}
	return centers
}
