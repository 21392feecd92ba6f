package index

import (
	"fmt"
	"runtime"

	"github.com/kailas-cloud/kpdex/internal/domain/vector"
)

// Mode selects the search strategy.
type Mode string

const (
	// ModeExact scans every vector.
	ModeExact Mode = "exact"
	// ModeIVF probes inverted lists built by k-means.
	ModeIVF Mode = "ivf"
)

// Defaults.
const (
	DefaultScanBatch      = 1024
	DefaultTrainThreshold = 4096
	MaxIDLength           = 256
	// parallelThreshold is the generation size above which exact scans are partitioned.
	parallelThreshold = 16384
	// kmeansMaxIter bounds Lloyd iterations per training.
	kmeansMaxIter = 20
)

// Options configures an Index. Dimensions and Metric are fixed for its lifetime.
type Options struct {
	Dimensions     int
	Metric         vector.Metric
	Mode           Mode
	NList          int // 0 = sqrt(N) at training time
	MaxProbes      int // 0 = probe until the result is provably exact
	TrainThreshold int
	ScanBatch      int
	Workers        int
	Seed           uint64
	KeepSnapshots  int
	// RecallTarget is the minimum top-1 agreement with exact search that
	// Calibrate must reach in IVF mode. Zero disables calibration.
	RecallTarget float64
}

func (o *Options) applyDefaults() {
	if o.Metric == "" {
		o.Metric = vector.Cosine
	}
	if o.Mode == "" {
		o.Mode = ModeExact
	}
	if o.ScanBatch <= 0 {
		o.ScanBatch = DefaultScanBatch
	}
	if o.TrainThreshold <= 0 {
		o.TrainThreshold = DefaultTrainThreshold
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
}

func (o *Options) validate() error {
	if o.Dimensions <= 0 {
		return fmt.Errorf("index dimensions must be positive, got %d", o.Dimensions)
	}
	if !o.Metric.IsValid() {
		return fmt.Errorf("unknown metric %q", o.Metric)
	}
	if o.Mode != ModeExact && o.Mode != ModeIVF {
		return fmt.Errorf("unknown index mode %q (want exact or ivf)", o.Mode)
	}
	if o.NList < 0 || o.MaxProbes < 0 {
		return fmt.Errorf("nlist and max_probes must be non-negative")
	}
	if o.RecallTarget < 0 || o.RecallTarget > 1 {
		return fmt.Errorf("recall_target must be within [0, 1], got %g", o.RecallTarget)
	}
	return nil
}
