// Package prune drops low-importance Gaussians from binary splat PLY files.
//
// Importance combines opacity, footprint volume and base colour intensity:
//
//	0.6*sigmoid(opacity) + 0.3*clip(volume/p90)^0.1 + 0.1*clip(|f_dc|/p95)
package prune

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	opacityWeight = 0.6
	scaleWeight   = 0.3
	colorWeight   = 0.1
	volumePower   = 0.1
	epsilon       = 1e-8
)

var (
	ErrUnsupported = errors.New("unsupported ply layout")
	ErrTruncated   = errors.New("truncated ply body")
)

type Method string

const (
	MethodImportance Method = "importance"
	MethodOpacity    Method = "opacity"
)

type Config struct {
	// KeepRatio in (0, 1) enables pruning. Anything else leaves artifacts
	// untouched.
	KeepRatio float64 `mapstructure:"keep_ratio"`
	Method    Method  `mapstructure:"method"`
}

func (c Config) Enabled() bool {
	return c.KeepRatio > 0 && c.KeepRatio < 1
}

// ProgressFunc receives values in [0, 1].
type ProgressFunc func(float64)

type Result struct {
	Data           []byte
	InputVertices  int
	OutputVertices int
}

type Pruner struct {
	config Config
}

func New(config Config) *Pruner {
	if config.Method == "" {
		config.Method = MethodImportance
	}
	return &Pruner{config: config}
}

func (p *Pruner) Enabled() bool {
	return p.config.Enabled()
}

// Prune keeps the floor(n*KeepRatio) most important vertices in their
// original order. Elements after the vertex block are copied unchanged.
func (p *Pruner) Prune(data []byte, progress ProgressFunc) (*Result, error) {
	report := func(v float64) {
		if progress != nil {
			progress(v)
		}
	}
	report(0)

	layout, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"opacity", "scale_0", "scale_1", "scale_2"} {
		if !layout.has(name) {
			return nil, fmt.Errorf("%w: missing vertex property %s", ErrUnsupported, name)
		}
	}

	var scores []float64
	switch p.config.Method {
	case MethodOpacity:
		scores = opacityScores(layout)
	case MethodImportance:
		scores = importanceScores(layout)
	default:
		return nil, fmt.Errorf("unknown prune method %q", p.config.Method)
	}
	report(0.5)

	keep := selectTop(scores, int(float64(layout.count)*p.config.KeepRatio))
	out := encode(layout, keep)
	report(1)

	return &Result{Data: out, InputVertices: layout.count, OutputVertices: len(keep)}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func opacityScores(l *vertexLayout) []float64 {
	scores := make([]float64, l.count)
	for i := range scores {
		scores[i] = sigmoid(l.value(i, "opacity"))
	}
	return scores
}

func importanceScores(l *vertexLayout) []float64 {
	n := l.count
	volume := make([]float64, n)
	color := make([]float64, n)
	hasColor := l.has("f_dc_0") && l.has("f_dc_1") && l.has("f_dc_2")

	for i := 0; i < n; i++ {
		volume[i] = math.Exp(l.value(i, "scale_0")) * math.Exp(l.value(i, "scale_1")) * math.Exp(l.value(i, "scale_2"))
		if hasColor {
			r, g, b := l.value(i, "f_dc_0"), l.value(i, "f_dc_1"), l.value(i, "f_dc_2")
			color[i] = math.Sqrt(r*r + g*g + b*b)
		}
	}

	volume90 := percentile(volume, 90)
	color95 := percentile(color, 95)

	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		volumeScore := math.Pow(clip01(volume[i]/(volume90+epsilon)), volumePower)
		colorScore := clip01(color[i] / (color95 + epsilon))
		scores[i] = opacityWeight*sigmoid(l.value(i, "opacity")) +
			scaleWeight*volumeScore +
			colorWeight*colorScore
	}
	return scores
}

func clip01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// selectTop returns the indices of the k highest scores in ascending index
// order. Ties keep the later index.
func selectTop(scores []float64, k int) []int {
	if k <= 0 {
		return nil
	}
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})
	if k > len(order) {
		k = len(order)
	}
	keep := order[len(order)-k:]
	sort.Ints(keep)
	return keep
}

func encode(l *vertexLayout, keep []int) []byte {
	var buf bytes.Buffer
	trailing := l.body[l.vertexBytes():]
	buf.Grow(len(keep)*l.stride + len(trailing) + 1024)

	for i, line := range l.header {
		if i == l.countLine {
			line = "element vertex " + strconv.Itoa(len(keep))
		}
		buf.WriteString(strings.TrimRight(line, "\r"))
		buf.WriteByte('\n')
	}
	for _, i := range keep {
		buf.Write(l.body[i*l.stride : (i+1)*l.stride])
	}
	buf.Write(trailing)
	return buf.Bytes()
}
