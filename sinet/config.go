package sinet

import (
	"fmt"
)

// StageConfig describes one backbone stage feeding the network.
type StageConfig struct {
	Channels int64 // backbone output channels
	Stride   int64 // spatial stride relative to the input image
}

// Config holds the static shape parameters of a Net.
type Config struct {
	Stages        []StageConfig // finest first
	Channels      int64         // width of every refined feature
	Groups        int64         // sub-groups of the grouped attention
	MSCAReduction int64         // channel reduction of the MSCA bottleneck
	SpadeHidden   int64         // hidden width of the SPADE modulation branch
}

// DefaultConfig returns the configuration for a ResNet-50 class backbone.
func DefaultConfig() Config {
	return Config{
		Stages: []StageConfig{
			{Channels: 256, Stride: 4},
			{Channels: 512, Stride: 8},
			{Channels: 1024, Stride: 16},
			{Channels: 2048, Stride: 32},
		},
		Channels:      64,
		Groups:        8,
		MSCAReduction: 4,
		SpadeHidden:   64,
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	if len(c.Stages) != numLevels {
		return fmt.Errorf("sinet: expected %d stages, got %d", numLevels, len(c.Stages))
	}
	for i, s := range c.Stages {
		if s.Channels <= 0 {
			return fmt.Errorf("sinet: stage %d: invalid channel count %d", i+1, s.Channels)
		}
		if i > 0 && s.Stride != 2*c.Stages[i-1].Stride {
			return fmt.Errorf("sinet: stage %d: stride %d is not twice stride %d of stage %d", i+1, s.Stride, c.Stages[i-1].Stride, i)
		}
	}
	if c.Channels <= 0 || c.Groups <= 0 || c.Channels%(2*c.Groups) != 0 {
		return fmt.Errorf("sinet: channels %d not divisible by 2*groups (groups=%d)", c.Channels, c.Groups)
	}
	if c.MSCAReduction <= 0 || c.Channels%c.MSCAReduction != 0 {
		return fmt.Errorf("sinet: channels %d not divisible by MSCA reduction %d", c.Channels, c.MSCAReduction)
	}
	if c.SpadeHidden <= 0 {
		return fmt.Errorf("sinet: invalid SPADE hidden width %d", c.SpadeHidden)
	}

	return nil
}

// MaxStride is the stride of the coarsest stage. Input height and width
// must be multiples of it.
func (c Config) MaxStride() int64 {
	return c.Stages[len(c.Stages)-1].Stride
}
