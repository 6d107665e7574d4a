package collective

import "sync"

// localHub is a reusable rendezvous barrier shared by every rank of a
// NewLocal group. Each collective call is one "round": every rank submits
// its input, the last rank to arrive runs compute once over all P inputs,
// and every rank reads the same output before the round resets for the
// next collective call. A single generation counter lets late arrivals
// distinguish "still waiting on this round" from "round already advanced"
// without a dedicated channel per call site.
type localHub struct {
	mu         sync.Mutex
	cond       *sync.Cond
	size       int
	arrived    int
	generation int
	inputs     []interface{}
	output     interface{}
}

func newLocalHub(p int) *localHub {
	h := &localHub{size: p, inputs: make([]interface{}, p)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *localHub) round(rank int, input interface{}, compute func([]interface{}) interface{}) interface{} {
	h.mu.Lock()
	gen := h.generation
	h.inputs[rank] = input
	h.arrived++
	if h.arrived == h.size {
		h.output = compute(h.inputs)
		h.inputs = make([]interface{}, h.size)
		h.arrived = 0
		h.generation++
		h.cond.Broadcast()
	} else {
		for h.generation == gen {
			h.cond.Wait()
		}
	}
	out := h.output
	h.mu.Unlock()
	return out
}

type localComm struct {
	rank int
	size int
	hub  *localHub
}

// NewLocal returns p Comm instances sharing one in-process rendezvous
// barrier, one per simulated MPI rank. Each returned Comm must be driven by
// its own goroutine, since every method other than Rank and Size blocks
// until all p goroutines call the matching method.
func NewLocal(p int) []Comm {
	if p <= 0 {
		panic("collective: NewLocal requires p > 0")
	}
	hub := newLocalHub(p)
	comms := make([]Comm, p)
	for r := 0; r < p; r++ {
		comms[r] = &localComm{rank: r, size: p, hub: hub}
	}
	return comms
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.size }

func (c *localComm) Barrier() {
	c.hub.round(c.rank, nil, func(_ []interface{}) interface{} { return nil })
}

func (c *localComm) BcastInt(v int, root int) int {
	out := c.hub.round(c.rank, v, func(inputs []interface{}) interface{} {
		return inputs[root].(int)
	})
	return out.(int)
}

func (c *localComm) BcastFloat64(v float64, root int) float64 {
	out := c.hub.round(c.rank, v, func(inputs []interface{}) interface{} {
		return inputs[root].(float64)
	})
	return out.(float64)
}

func (c *localComm) Bcast(buf []float64, root int) {
	out := c.hub.round(c.rank, buf, func(inputs []interface{}) interface{} {
		src := inputs[root].([]float64)
		cp := make([]float64, len(src))
		copy(cp, src)
		return cp
	})
	copy(buf, out.([]float64))
}

func (c *localComm) Scatter(full []float64, out []float64, root int) {
	chunk := len(out)
	result := c.hub.round(c.rank, full, func(inputs []interface{}) interface{} {
		src := inputs[root].([]float64)
		cp := make([]float64, len(src))
		copy(cp, src)
		return cp
	}).([]float64)
	copy(out, result[c.rank*chunk:(c.rank+1)*chunk])
}

func (c *localComm) Gather(part []float64, full []float64, root int) {
	chunk := len(part)
	result := c.hub.round(c.rank, part, func(inputs []interface{}) interface{} {
		merged := make([]float64, 0, chunk*len(inputs))
		for _, in := range inputs {
			merged = append(merged, in.([]float64)...)
		}
		return merged
	}).([]float64)
	if c.rank == root {
		copy(full, result)
	}
}

func (c *localComm) AllReduceSum(partial []float64, out []float64) {
	result := c.hub.round(c.rank, partial, func(inputs []interface{}) interface{} {
		n := len(inputs[0].([]float64))
		sum := make([]float64, n)
		for _, in := range inputs {
			v := in.([]float64)
			for i := 0; i < n; i++ {
				sum[i] += v[i]
			}
		}
		return sum
	}).([]float64)
	copy(out, result)
}

func (c *localComm) AllReduceSumScalar(x float64) float64 {
	result := c.hub.round(c.rank, x, func(inputs []interface{}) interface{} {
		sum := 0.0
		for _, in := range inputs {
			sum += in.(float64)
		}
		return sum
	})
	return result.(float64)
}
