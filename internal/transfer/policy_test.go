package transfer

import "testing"

func TestPolicyDecide(t *testing.T) {
	p := Policy{SizeThreshold: DefaultSizeThreshold}
	tests := []struct {
		name string
		size int64
		want Strategy
	}{
		{"empty", 0, StrategySimple},
		{"one MiB", 1 << 20, StrategySimple},
		{"ten MiB", 10 << 20, StrategySimple},
		{"at threshold", DefaultSizeThreshold, StrategySimple},
		{"one over threshold", DefaultSizeThreshold + 1, StrategyChunked},
		{"one GiB", 1 << 30, StrategyChunked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.size); got != tt.want {
				t.Fatalf("Decide(%d) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestStrategyString(t *testing.T) {
	if StrategySimple.String() != "simple" || StrategyChunked.String() != "chunked" {
		t.Fatalf("unexpected names %q %q", StrategySimple, StrategyChunked)
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero block size", func(o *Options) { o.MaxBlockSize = 0 }},
		{"negative threshold", func(o *Options) { o.SizeThreshold = -1 }},
		{"zero width", func(o *Options) { o.BlockIDWidth = 0 }},
		{"huge width", func(o *Options) { o.BlockIDWidth = 65 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if err := o.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
