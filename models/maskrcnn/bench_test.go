package maskrcnn

import (
	"testing"

	"github.com/nvr-ai/go-mrcnn/models/model"
)

// fillCandidates marks n candidates as foreground detections.
func fillCandidates(det []float32, n int) {
	for i := 0; i < n; i++ {
		f := float32(i) / float32(n)
		setCandidate(det, i, RawDetection{
			Y1: f * 0.5, X1: f * 0.5, Y2: f*0.5 + 0.1, X2: f*0.5 + 0.2,
			ClassID: float32(1 + i%(NumClasses-1)),
			Score:   0.5 + f/2,
		})
	}
}

func BenchmarkDecode(b *testing.B) {
	for _, n := range []int{0, 10, DetectionMaxInstances} {
		b.Run(benchName(n), func(b *testing.B) {
			det, masks := cocoTensors(b)
			fillCandidates(det, n)
			d := newCOCODecoder(b)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := d.Decode(det, masks); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkParseObjects(b *testing.B) {
	det, masks := cocoTensors(b)
	fillCandidates(det, 10)
	p := newCOCOParser(b)
	layers := cocoLayers(det, masks)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := p.ParseObjects(layers, network1024, model.DetectionParams{}); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchName(n int) string {
	switch n {
	case 0:
		return "background"
	case DetectionMaxInstances:
		return "full"
	default:
		return "sparse"
	}
}
