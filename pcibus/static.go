package pcibus

import "fmt"

// StaticFunction is one pre-resolved function for a StaticRoot.
type StaticFunction struct {
	Addr Addr
	Info FunctionInfo
	Bars [maxBars]Bar
}

// StaticRoot is a Root over a fixed list of functions. It backs unit tests
// and platforms where firmware hands over an already-enumerated device tree.
type StaticRoot struct {
	funcs []StaticFunction
}

func NewStaticRoot(funcs ...StaticFunction) *StaticRoot {
	return &StaticRoot{funcs: funcs}
}

func (r *StaticRoot) Walk(visit func(Addr, *FunctionInfo) bool) {
	for i := range r.funcs {
		f := &r.funcs[i]
		if !visit(f.Addr, &f.Info) {
			return
		}
	}
}

func (r *StaticRoot) BarInfo(a Addr, index int) (Bar, error) {
	if index < 0 || index >= maxBars {
		return nil, fmt.Errorf("BAR index %d out of range", index)
	}

	for i := range r.funcs {
		f := &r.funcs[i]
		if f.Addr != a {
			continue
		}
		if f.Bars[index] == nil {
			return nil, fmt.Errorf("%s has no BAR%d", a, index)
		}
		return f.Bars[index], nil
	}

	return nil, fmt.Errorf("no function at %s", a)
}
