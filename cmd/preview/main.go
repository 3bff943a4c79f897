// Command preview renders the channels of one dataset sample as
// heat-map PNGs, one image per channel of the first future scan. It is
// the quick sanity check for a freshly preprocessed dataset: eyeball
// the range image and xyz components before starting a training run.
//
// Usage:
//
//	preview --config config/parameters.yml --split val --index 0 --out plots
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/rangecast/rangecast/config"
	"github.com/rangecast/rangecast/datasets"
	"github.com/rangecast/rangecast/npy"
)

// pixelGrid adapts a matrix to the heat-map grid with unit spacing.
type pixelGrid struct {
	mat.Matrix
}

func (g pixelGrid) Dims() (c, r int)   { r, c = g.Matrix.Dims(); return c, r }
func (g pixelGrid) Z(c, r int) float64 { return g.Matrix.At(r, c) }
func (g pixelGrid) X(c int) float64    { return float64(c) }
func (g pixelGrid) Y(r int) float64    { return float64(r) }

func main() {
	configPath := flag.String("config", config.DefaultKITTIConfigPath, "parameter file")
	split := flag.String("split", "val", "dataset split: train, val or test")
	index := flag.Int("index", 0, "flat sample index")
	outDir := flag.String("out", "plots", "output directory for channel PNGs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ds, err := datasets.NewWindowDataset(cfg, *split)
	if err != nil {
		log.Fatalf("open %s split: %v", *split, err)
	}
	s, err := ds.Sample(*index)
	if err != nil {
		log.Fatalf("load sample: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output directory: %v", err)
	}

	names := []string{"range", "x", "y", "z", "mask"}
	channels, h, w := s.FutShape[1], s.FutShape[2], s.FutShape[3]
	for c := 0; c < channels; c++ {
		// First future scan, channel c.
		block := s.Fut[c*h*w : (c+1)*h*w]
		m, err := (&npy.Array{Shape: []int{h, w}, Data: block}).Matrix()
		if err != nil {
			log.Fatalf("grid channel %d: %v", c, err)
		}

		p := plot.New()
		p.Title.Text = fmt.Sprintf("seq %03d scan %d: %s", s.Meta.Seq, s.Meta.ScanIdx, names[c])
		p.Add(plotter.NewHeatMap(pixelGrid{m}, palette.Heat(255, 1)))

		out := filepath.Join(*outDir, names[c]+".png")
		if err := p.Save(30*vg.Centimeter, 30*vg.Centimeter*vg.Length(h)/vg.Length(w), out); err != nil {
			log.Fatalf("save %s: %v", out, err)
		}
	}
	log.Printf("wrote %d channel previews to %s", channels, *outDir)
}
