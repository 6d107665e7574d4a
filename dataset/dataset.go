// Package dataset loads the inputs OptimizeSerial and OptimizeMPI need: a
// K×N log-likelihood matrix and the N per-observation log-multiplicities.
package dataset

import (
	"bufio"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/bobonovski/rcgmix/matrix"
)

// Dataset bundles the two inputs rcg.OptimizeSerial and rcg.OptimizeMPI take
// besides alpha0: the K×N log-likelihood matrix and the N log-multiplicities.
type Dataset struct {
	Logl             *matrix.Log
	LogTimesObserved []float64
}

// Load reads a Dataset from fn. The format is one line per mixture
// component, each holding N whitespace-separated log-likelihood values,
// followed by a final line of N whitespace-separated log-multiplicities:
//
//	logl[0][0] logl[0][1] ... logl[0][N-1]
//	logl[1][0] logl[1][1] ... logl[1][N-1]
//	...
//	logl[K-1][0] ... logl[K-1][N-1]
//	log_times_observed[0] ... log_times_observed[N-1]
//
// Load returns an error rather than panicking on a malformed field, unlike
// the LDA corpus loader it is adapted from.
func Load(fn string) (*Dataset, error) {
	f, err := os.Open(fn)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	defer f.Close()

	var rows [][]float64
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, tok := range fields {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: %s:%d: bad value %q: %w", fn, lineNo, tok, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", fn, err)
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("dataset: %s: need at least one component row plus the multiplicity row, got %d lines", fn, len(rows))
	}

	logTimesObserved := rows[len(rows)-1]
	n := uint32(len(logTimesObserved))
	if n == 0 {
		return nil, fmt.Errorf("dataset: %s: log_times_observed row is empty", fn)
	}

	componentRows := rows[:len(rows)-1]
	k := uint32(len(componentRows))
	logl, err := matrix.New(k, n)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", fn, err)
	}
	for row, vals := range componentRows {
		if uint32(len(vals)) != n {
			return nil, fmt.Errorf("dataset: %s: component row %d has %d values, want %d", fn, row, len(vals), n)
		}
		for col, v := range vals {
			logl.Set(uint32(row), uint32(col), v)
		}
	}

	return &Dataset{Logl: logl, LogTimesObserved: logTimesObserved}, nil
}

// Synthetic builds a Dataset with k components and n observations from a
// seeded random generator, for tests and the demo CLI path. Each
// observation is assigned a true component uniformly at random and given a
// log-likelihood surface peaked at that component, so a correctly behaving
// optimizer should recover near-deterministic responsibilities.
func Synthetic(k, n uint32, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	logl, _ := matrix.New(k, n)
	for col := uint32(0); col < n; col++ {
		truth := uint32(rng.Intn(int(k)))
		for row := uint32(0); row < k; row++ {
			base := -3.0 - rng.Float64()
			if row == truth {
				base = -0.05 - 0.1*rng.Float64()
			}
			logl.Set(row, col, base)
		}
	}
	logTimesObserved := make([]float64, n)
	for i := range logTimesObserved {
		logTimesObserved[i] = math.Log(1.0)
	}
	return &Dataset{Logl: logl, LogTimesObserved: logTimesObserved}
}
