package report

import (
	"context"
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
	"mnist-forge/internal/tracking"
)

// NodeKind distinguishes graph node styles.
type NodeKind int

const (
	NodeOutput NodeKind = iota
	NodeOp
	NodeParam
)

// Node is one vertex of the computation graph. Inputs are indices of the
// nodes feeding into it.
type Node struct {
	Label  string
	Kind   NodeKind
	Inputs []int
}

// Graph is the backward graph of mean(net(x)), output first.
type Graph struct {
	Nodes []Node
}

// BuildGraph describes the computation of the mean score over a batch of
// n examples.
func BuildGraph(net *model.MLP, n int, mean float64) Graph {
	var g Graph
	add := func(node Node) int {
		g.Nodes = append(g.Nodes, node)
		return len(g.Nodes) - 1
	}
	out := add(Node{Label: fmt.Sprintf("mean ()\n%.6f", mean), Kind: NodeOutput})
	prev := add(Node{Label: "MeanBackward0", Kind: NodeOp})
	g.Nodes[out].Inputs = []int{prev}

	layers := net.Layers()
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		in, width := l.W.Dims()
		addmm := add(Node{Label: fmt.Sprintf("AddmmBackward0\n(%d, %d)", n, width), Kind: NodeOp})
		w := add(Node{Label: fmt.Sprintf("%s.weight\n(%d, %d)", l.Name, width, in), Kind: NodeParam})
		b := add(Node{Label: fmt.Sprintf("%s.bias\n(%d)", l.Name, width), Kind: NodeParam})
		g.Nodes[prev].Inputs = append(g.Nodes[prev].Inputs, addmm)
		g.Nodes[addmm].Inputs = []int{w, b}
		if i > 0 {
			relu := add(Node{Label: "ReluBackward0", Kind: NodeOp})
			g.Nodes[addmm].Inputs = append(g.Nodes[addmm].Inputs, relu)
			prev = relu
		}
	}
	return g
}

const (
	nodeW   = 200.0
	nodeH   = 44.0
	rowGap  = 36.0
	colStep = 230.0
	pad     = 30.0
)

// RenderGraph lays the op chain out top to bottom with parameters to the
// right of the op that consumes them.
func RenderGraph(g Graph) image.Image {
	pos := make([][2]float64, len(g.Nodes))
	row := 0
	for i, node := range g.Nodes {
		if node.Kind == NodeParam {
			continue
		}
		pos[i] = [2]float64{pad, pad + float64(row)*(nodeH+rowGap)}
		params := 0
		for _, in := range node.Inputs {
			if g.Nodes[in].Kind == NodeParam {
				params++
				pos[in] = [2]float64{pad + float64(params)*colStep, pos[i][1]}
			}
		}
		row++
	}

	width := pad*2 + nodeW + 2*colStep
	height := pad*2 + float64(row)*(nodeH+rowGap) - rowGap
	dc := gg.NewContext(int(width), int(height))
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0.2, 0.2, 0.2)
	dc.SetLineWidth(1.5)
	for i, node := range g.Nodes {
		for _, in := range node.Inputs {
			x1, y1 := pos[in][0]+nodeW/2, pos[in][1]
			x2, y2 := pos[i][0]+nodeW/2, pos[i][1]+nodeH
			if g.Nodes[in].Kind == NodeParam {
				x1, y1 = pos[in][0], pos[in][1]+nodeH/2
				x2, y2 = pos[i][0]+nodeW, pos[i][1]+nodeH/2
			}
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
		}
	}

	for i, node := range g.Nodes {
		x, y := pos[i][0], pos[i][1]
		switch node.Kind {
		case NodeOutput:
			dc.SetRGB(0.6, 0.9, 0.6)
		case NodeParam:
			dc.SetRGB(0.7, 0.85, 1)
		default:
			dc.SetRGB(0.85, 0.85, 0.85)
		}
		dc.DrawRectangle(x, y, nodeW, nodeH)
		dc.FillPreserve()
		dc.SetRGB(0, 0, 0)
		dc.Stroke()
		dc.DrawStringWrapped(node.Label, x+nodeW/2, y+nodeH/2, 0.5, 0.5, nodeW-8, 1.2, gg.AlignCenter)
	}
	return dc.Image()
}

// LogModelVisualization freezes net, runs one training batch through it,
// writes the rendered graph to path and uploads it to model/visualization.
func LogModelVisualization(ctx context.Context, net *model.MLP, loader *dataset.Loader, path string, log tracking.Logger) error {
	net.Freeze()
	batch, err := loader.First(ctx)
	if err != nil {
		return fmt.Errorf("model visualization: %w", err)
	}
	out := net.Forward(batch.Inputs)
	mean := stat.Mean(out.RawMatrix().Data, nil)

	img := RenderGraph(BuildGraph(net, batch.Len(), mean))
	if err := gg.SavePNG(path, img); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	klog.Infof("model visualization written to %s", path)
	return log.UploadFile("model/visualization", path)
}
