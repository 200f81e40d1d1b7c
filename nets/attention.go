package nets

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// attend gates onto (N, C, h, w) with the class activation map of the backbone's top scoring
// class: the classifier row of that class is multiplied with the activated features, and a
// softmax over the h*w positions gives the map. Tied top scores sum their rows.
func (b *builder) attend(net backbone, onto *G.Node, name string) *G.Node {
	if b.err != nil {
		return nil
	}
	s := net.features.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]

	weight := b.node(net.fc + ".weight") // (C, K)
	top := b.do(func() (*G.Node, error) { return G.Max(net.logits, 1) })
	top = b.reshape(top, tensor.Shape{n, 1})
	mask := b.do(func() (*G.Node, error) { return G.BroadcastGte(net.logits, top, true, nil, []byte{1}) })
	rows := b.do(func() (*G.Node, error) { return G.Transpose(weight) })
	selected := b.do(func() (*G.Node, error) { return G.Mul(mask, rows) })
	selected = b.reshape(selected, tensor.Shape{n, 1, c})

	flat := b.reshape(net.features, tensor.Shape{n, c, h * w})
	cam := b.do(func() (*G.Node, error) { return G.BatchedMatMul(selected, flat) })
	cam = b.reshape(cam, tensor.Shape{n, h * w})
	att := b.do(func() (*G.Node, error) { return G.SoftMax(cam) })
	att = b.reshape(att, tensor.Shape{n, 1, h, w})
	if att != nil {
		b.attention = append(b.attention, att)
	}

	gated := b.do(func() (*G.Node, error) { return G.BroadcastHadamardProd(onto, att, nil, []byte{1}) })
	return b.record(gated, name, "attention", net.features, onto)
}

// attentionModel classifies time major frames (T*B, C, H, W). It returns the logits (B, K) and
// the pooled memory (B, M).
func (b *builder) attentionModel(frames *G.Node, conf Config, prefix string) (logits, pooled *G.Node) {
	net := b.resnet(frames, conf, prefix+"resNet.")
	x := net.features
	if conf.Attention {
		x = b.attend(net, net.preact, prefix+"attention")
		b.freeze(net.fc + ".bias")
	} else {
		b.freeze(net.fc + ".")
	}
	pooled = b.recur(x, conf, prefix+"lstm_cell.")
	logits = b.linear(b.dropout(pooled, conf.Dropout), conf.Classes, prefix+"classifier.1")
	return logits, pooled
}

// flowAttentionModel classifies time major flow frames (T*B, F, H, W). The attention map comes
// from the flow backbone and gates the RGB backbone's pre-activation features of the parallel
// frames (T*B, C, H, W). Without attention the RGB stream is unused.
func (b *builder) flowAttentionModel(flow, frames *G.Node, conf Config, prefix string) (logits, pooled *G.Node) {
	flowNet := b.resnet(flow, conf, prefix+"flowResNet.")
	rgbNet := b.resnet(frames, conf, prefix+"resNetRGB.")
	b.freeze(rgbNet.fc + ".")

	x := flowNet.features
	if conf.Attention {
		x = b.attend(flowNet, rgbNet.preact, prefix+"attention")
		b.freeze(flowNet.fc + ".bias")
	} else {
		b.freeze(flowNet.fc + ".")
		b.freeze(prefix + "resNetRGB.")
	}
	pooled = b.recur(x, conf, prefix+"lstm_cell.")
	logits = b.linear(b.dropout(pooled, conf.Dropout), conf.Classes, prefix+"classifier.1")
	return logits, pooled
}

// twoStream fuses a flow guided model and an RGB attention model by their pooled memories.
func (b *builder) twoStream(flow, frames *G.Node, conf Config) *G.Node {
	_, flowFeats := b.flowAttentionModel(flow, frames, conf, "flowModel.")
	_, rgbFeats := b.attentionModel(frames, conf, "frameModel.")
	b.freeze("flowModel.classifier.1.")
	b.freeze("frameModel.classifier.1.")

	fused := b.do(func() (*G.Node, error) { return G.Concat(1, flowFeats, rgbFeats) })
	fused = b.record(fused, "concat", "concat", flowFeats, rgbFeats)
	return b.linear(b.dropout(fused, 0.5), conf.Classes, "fc2")
}
