package main

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/golang/glog"

	"github.com/bobonovski/rcgmix/collective"
	"github.com/bobonovski/rcgmix/dataset"
	"github.com/bobonovski/rcgmix/matrix"
	"github.com/bobonovski/rcgmix/numeric"
	"github.com/bobonovski/rcgmix/rcg"
)

var (
	input      = flag.String("input_file", "", "log-likelihood dataset file (see dataset.Load); if empty, a synthetic dataset is generated")
	alpha0Flag = flag.Float64("alpha0", 1.0, "Dirichlet prior concentration, shared across all components")
	tol        = flag.Float64("tol", 1e-8, "ELBO improvement threshold below which the optimizer stops")
	maxiters   = flag.Int("iter", 5000, "maximum number of RCG iterations")
	ranks      = flag.Int("ranks", 1, "number of simulated MPI ranks to run the data-parallel optimizer over; 1 runs the serial optimizer")
	syntheticK = flag.Uint("k", 4, "number of mixture components for the synthetic dataset (ignored if -input_file is set)")
	syntheticN = flag.Uint("n", 200, "number of observations for the synthetic dataset (ignored if -input_file is set)")
	verbose    = flag.Bool("verbose", false, "additionally log progress through glog")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	var data *dataset.Dataset
	if *input != "" {
		d, err := dataset.Load(*input)
		if err != nil {
			glog.Errorf("failed to load %s: %v", *input, err)
			os.Exit(1)
		}
		data = d
	} else {
		glog.Infof("no -input_file given, generating a synthetic dataset with k=%d n=%d", *syntheticK, *syntheticN)
		data = dataset.Synthetic(uint32(*syntheticK), uint32(*syntheticN), 1)
	}

	k := data.Logl.Rows()
	alpha0 := make([]float64, k)
	for i := range alpha0 {
		alpha0[i] = *alpha0Flag
	}

	var gamma *matrix.Log
	var err error
	if *ranks <= 1 {
		boundConst := numeric.CalcBoundConst(data.LogTimesObserved, alpha0)
		gamma, err = rcg.OptimizeSerial(data.Logl, data.LogTimesObserved, alpha0, boundConst, *tol, *maxiters, *verbose, os.Stdout)
	} else {
		gamma, err = runMPI(*ranks, data, alpha0)
	}
	if err != nil {
		glog.Errorf("optimization failed: %v", err)
		os.Exit(1)
	}

	glog.Infof("converged gamma: %d components x %d observations", gamma.Rows(), gamma.Cols())
	fmt.Printf("component responsibilities (log-space), %d x %d:\n", gamma.Rows(), gamma.Cols())
	for row := uint32(0); row < gamma.Rows(); row++ {
		for col := uint32(0); col < gamma.Cols(); col++ {
			fmt.Printf("%g ", gamma.At(row, col))
		}
		fmt.Println()
	}
}

// runMPI drives rcg.OptimizeMPI over p in-process simulated ranks built by
// collective.NewLocal, each in its own goroutine. Only the root rank's
// result is non-nil.
func runMPI(p int, data *dataset.Dataset, alpha0 []float64) (*matrix.Log, error) {
	comms := collective.NewLocal(p)
	results := make([]*matrix.Log, p)
	errs := make([]error, p)

	var wg sync.WaitGroup
	for r := 0; r < p; r++ {
		wg.Add(1)
		go func(c collective.Comm) {
			defer wg.Done()
			var logl *matrix.Log
			var logTimesObserved []float64
			if c.Rank() == collective.Root {
				logl = data.Logl
				logTimesObserved = data.LogTimesObserved
			}
			g, err := rcg.OptimizeMPI(c, logl, logTimesObserved, alpha0, *tol, *maxiters, os.Stdout)
			results[c.Rank()] = g
			errs[c.Rank()] = err
		}(comms[r])
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results[collective.Root], nil
}
