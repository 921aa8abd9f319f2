package passes

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/analysis"
	"kanso-prover/internal/mergeins"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/target"
)

// Options configures the processors created by Build
type Options struct {
	// SkipDeadMerges drops merges of slots that are dead at the reconvergence point
	SkipDeadMerges bool
	// VerificationFlavor names the verification variants that are created
	VerificationFlavor string
	// MaxFixpointRounds bounds the rounds over recursive groups, 0 keeps the default
	MaxFixpointRounds int
}

// DefaultOptions returns the options used when no configuration is given
func DefaultOptions() Options {
	return Options{SkipDeadMerges: true, VerificationFlavor: target.RegularFlavor}
}

type factory func(opts Options) pipeline.FunctionTargetProcessor

var registry = map[string]factory{
	analysis.VerificationVariantsName: func(opts Options) pipeline.FunctionTargetProcessor {
		return analysis.NewVerificationVariants(opts.VerificationFlavor)
	},
	analysis.NoAbortName: func(Options) pipeline.FunctionTargetProcessor {
		return analysis.NewNoAbortAnalysis()
	},
	mergeins.ProcessorName: func(opts Options) pipeline.FunctionTargetProcessor {
		return mergeins.NewProcessor(mergeins.Options{SkipDeadMerges: opts.SkipDeadMerges})
	},
	analysis.LiveVarName: func(Options) pipeline.FunctionTargetProcessor {
		return analysis.NewLiveVarAnalysis()
	},
	analysis.ReachingDefsName: func(Options) pipeline.FunctionTargetProcessor {
		return analysis.NewReachingDefsAnalysis()
	},
}

// Default returns the pass order used by the prover. Live variables run
// last so their annotation describes the merge-inserted code.
func Default() []string {
	return []string{
		analysis.VerificationVariantsName,
		analysis.NoAbortName,
		mergeins.ProcessorName,
		analysis.LiveVarName,
	}
}

// Names returns every registered pass name, sorted
func Names() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}

// Build creates the processors for the given pass names, in order
func Build(names []string, opts Options) ([]pipeline.FunctionTargetProcessor, error) {
	processors := make([]pipeline.FunctionTargetProcessor, 0, len(names))
	for _, name := range names {
		create, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown pass %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		processors = append(processors, create(opts))
	}
	return processors, nil
}

// NewPipeline builds a pipeline running the given passes
func NewPipeline(names []string, opts Options) (*pipeline.Pipeline, error) {
	processors, err := Build(names, opts)
	if err != nil {
		return nil, err
	}
	p := pipeline.New(processors...)
	if opts.MaxFixpointRounds > 0 {
		p.SetMaxFixpointRounds(opts.MaxFixpointRounds)
	}
	return p, nil
}

// Describe returns the description of a registered pass
func Describe(name string) (string, bool) {
	create, ok := registry[name]
	if !ok {
		return "", false
	}
	if d, ok := create(DefaultOptions()).(pipeline.Describer); ok {
		return d.Description(), true
	}
	return "", true
}
