// Package resnet builds the pre-activation residual network used by the
// CIFAR-10 classifier.
//
// Build(size, numClasses) follows the CIFAR variant: an initial 3x3
// convolution to 16 channels, three groups of n = (size-2)/6 residual
// blocks with 16/32/64 filters, a stride-2 transition into the second and
// third groups, then batch norm, ReLU, global average pooling and a dense
// layer to the class logits.
package resnet

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/born-ml/cifar/internal/nn"
)

// Filter widths of the three block groups.
var groupFilters = [3]int{16, 32, 64}

// block is one pre-activation residual unit:
//
//	a   = relu(bn1(x))
//	h   = conv2(relu(bn2(conv1(a))))
//	out = h + shortcut
//
// where shortcut is x itself, or a 1x1 projection of a when the block
// changes shape (stride 2 or a filter increase).
type block struct {
	bn1   *nn.BatchNorm
	relu1 *nn.ReLU
	conv1 *nn.Conv2D
	bn2   *nn.BatchNorm
	relu2 *nn.ReLU
	conv2 *nn.Conv2D
	proj  *nn.Conv2D // nil for identity shortcuts

	// Cached during Forward for the residual backward pass.
	input *tensor.Dense
}

func newBlock(name string, inFilters, outFilters, stride int) *block {
	b := &block{
		bn1:   nn.NewBatchNorm(name+".bn1", inFilters),
		relu1: nn.NewReLU(),
		conv1: nn.NewConv2D(name+".conv1", inFilters, outFilters, 3, stride),
		bn2:   nn.NewBatchNorm(name+".bn2", outFilters),
		relu2: nn.NewReLU(),
		conv2: nn.NewConv2D(name+".conv2", outFilters, outFilters, 3, 1),
	}
	if stride != 1 || inFilters != outFilters {
		b.proj = nn.NewConv2D(name+".shortcut", inFilters, outFilters, 1, stride)
	}
	return b
}

func (b *block) forward(x *tensor.Dense, training bool) *tensor.Dense {
	a := b.relu1.Forward(b.bn1.Forward(x, training), training)

	shortcut := x
	if b.proj != nil {
		// Projection taps the pre-activated tensor, not the raw input.
		shortcut = b.proj.Forward(a, training)
	}

	h := b.conv1.Forward(a, training)
	h = b.relu2.Forward(b.bn2.Forward(h, training), training)
	h = b.conv2.Forward(h, training)

	b.input = x
	return add(h, shortcut)
}

func (b *block) backward(grad *tensor.Dense) *tensor.Dense {
	if b.input == nil {
		panic("resnet: block backward before forward")
	}

	// Residual branch back to the pre-activation point.
	dh := b.conv2.Backward(grad)
	dh = b.bn2.Backward(b.relu2.Backward(dh))
	da := b.conv1.Backward(dh)

	if b.proj != nil {
		da = add(da, b.proj.Backward(grad))
	}

	dx := b.bn1.Backward(b.relu1.Backward(da))
	if b.proj == nil {
		// Identity shortcut feeds the raw input straight to the output.
		dx = add(dx, grad)
	}

	b.input = nil
	return dx
}

func (b *block) layers() []nn.Layer {
	ls := []nn.Layer{b.bn1, b.conv1, b.bn2, b.conv2}
	if b.proj != nil {
		ls = append(ls, b.proj)
	}
	return ls
}

func (b *block) batchNorms() []*nn.BatchNorm {
	return []*nn.BatchNorm{b.bn1, b.bn2}
}

// Network is the assembled residual classifier.
type Network struct {
	size       int
	numClasses int

	conv0     *nn.Conv2D
	groups    [3][]*block
	bnFinal   *nn.BatchNorm
	reluFinal *nn.ReLU
	pool      *nn.GlobalAvgPool
	fc        *nn.Dense

	params []*nn.Parameter
	bns    []namedBatchNorm
}

type namedBatchNorm struct {
	name string
	bn   *nn.BatchNorm
}

// Build constructs a network of the given size. Size must satisfy
// (size-2) % 6 == 0 (e.g. 8, 20, 32, 44, 56, 110).
func Build(size, numClasses int) (*Network, error) {
	if size < 8 || (size-2)%6 != 0 {
		return nil, fmt.Errorf("resnet: size must be 6n+2 with n >= 1, got %d", size)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("resnet: numClasses must be positive, got %d", numClasses)
	}
	n := (size - 2) / 6

	net := &Network{
		size:       size,
		numClasses: numClasses,
		conv0:      nn.NewConv2D("conv0", 3, groupFilters[0], 3, 1),
		bnFinal:    nn.NewBatchNorm("final.bn", groupFilters[2]),
		reluFinal:  nn.NewReLU(),
		pool:       nn.NewGlobalAvgPool(),
		fc:         nn.NewDense("fc", groupFilters[2], numClasses),
	}

	inFilters := groupFilters[0]
	for g := 0; g < 3; g++ {
		stride := 2
		if g == 0 {
			stride = 1
		}
		blocks := make([]*block, 0, n)
		for i := 0; i < n; i++ {
			s := 1
			if i == 0 {
				s = stride
			}
			name := fmt.Sprintf("group%d.block%d", g+1, i)
			blocks = append(blocks, newBlock(name, inFilters, groupFilters[g], s))
			inFilters = groupFilters[g]
		}
		net.groups[g] = blocks
	}

	net.collect()
	return net, nil
}

// collect walks the layer tree once, gathering parameters and batch norms.
func (net *Network) collect() {
	add := func(layers ...nn.Layer) {
		for _, l := range layers {
			net.params = append(net.params, l.Parameters()...)
		}
	}
	add(net.conv0)
	for g, blocks := range net.groups {
		for i, b := range blocks {
			add(b.layers()...)
			prefix := fmt.Sprintf("group%d.block%d", g+1, i)
			net.bns = append(net.bns,
				namedBatchNorm{prefix + ".bn1", b.bn1},
				namedBatchNorm{prefix + ".bn2", b.bn2},
			)
		}
	}
	add(net.bnFinal, net.fc)
	net.bns = append(net.bns, namedBatchNorm{"final.bn", net.bnFinal})
}

// Size returns the depth parameter the network was built with.
func (net *Network) Size() int { return net.size }

// Forward runs the network on an image batch [N,32,32,3] and returns
// logits [N,numClasses]. The training flag selects batch-norm statistics
// usage; it does not by itself cause any parameter update.
func (net *Network) Forward(images *tensor.Dense, training bool) *tensor.Dense {
	h := net.conv0.Forward(images, training)
	for _, blocks := range &net.groups {
		for _, b := range blocks {
			h = b.forward(h, training)
		}
	}
	h = net.reluFinal.Forward(net.bnFinal.Forward(h, training), training)
	h = net.pool.Forward(h, training)
	return net.fc.Forward(h, training)
}

// Backward propagates the loss gradient with respect to the logits through
// the whole network, accumulating parameter gradients.
func (net *Network) Backward(dlogits *tensor.Dense) {
	grad := net.fc.Backward(dlogits)
	grad = net.pool.Backward(grad)
	grad = net.bnFinal.Backward(net.reluFinal.Backward(grad))
	for g := 2; g >= 0; g-- {
		blocks := net.groups[g]
		for i := len(blocks) - 1; i >= 0; i-- {
			grad = blocks[i].backward(grad)
		}
	}
	net.conv0.Backward(grad)
}

// Parameters returns every trainable parameter in a stable order.
func (net *Network) Parameters() []*nn.Parameter {
	return net.params
}

// CommitStats applies all pending batch-norm running-statistics updates.
// The train step calls this before the optimizer update completes.
func (net *Network) CommitStats() {
	for _, nb := range net.bns {
		nb.bn.CommitStats()
	}
}

// HasPendingStats reports whether any batch norm holds uncommitted
// statistics.
func (net *Network) HasPendingStats() bool {
	for _, nb := range net.bns {
		if nb.bn.HasPendingStats() {
			return true
		}
	}
	return false
}

// StateDict exports the model state: every trainable parameter plus the
// batch-norm running statistics, keyed by name.
func (net *Network) StateDict() map[string]*tensor.Dense {
	state := make(map[string]*tensor.Dense, len(net.params)+2*len(net.bns))
	for _, p := range net.params {
		state[p.Name] = p.Value
	}
	for _, nb := range net.bns {
		state[nb.name+".running_mean"] = nb.bn.RunningMean()
		state[nb.name+".running_var"] = nb.bn.RunningVar()
	}
	return state
}

// LoadStateDict restores model state exported by StateDict. Every key must
// be present with a matching shape.
func (net *Network) LoadStateDict(state map[string]*tensor.Dense) error {
	for name, dst := range net.StateDict() {
		src, ok := state[name]
		if !ok {
			return fmt.Errorf("resnet: state dict missing %q", name)
		}
		if !src.Shape().Eq(dst.Shape()) {
			return fmt.Errorf("resnet: shape mismatch for %q: got %v, want %v",
				name, src.Shape(), dst.Shape())
		}
		copy(dst.Data().([]float64), src.Data().([]float64))
	}
	return nil
}

// add returns the element-wise sum of two equally shaped tensors.
func add(a, b *tensor.Dense) *tensor.Dense {
	av := a.Data().([]float64)
	bv := b.Data().([]float64)
	out := make([]float64, len(av))
	for i := range av {
		out[i] = av[i] + bv[i]
	}
	return tensor.New(tensor.WithShape(a.Shape()...), tensor.WithBacking(out))
}
