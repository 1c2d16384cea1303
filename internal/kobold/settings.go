package kobold

import (
	"kobold-gateway/internal/models"
)

const defaultAPIType = "koboldcpp"

// DefaultStopSequences are sent when the caller does not supply any.
var DefaultStopSequences = []string{"\nuser:", "</s>", "[INST]", "[SYSTEM_PROMPT]"}

var (
	defaultSamplerOrder    = []int{6, 0, 1, 3, 4, 2, 5}
	defaultSequenceBreaker = []string{"\n", ":", `"`, "*"}
)

// Overrides holds the caller-tunable generation fields. Nil fields fall back
// to the gateway defaults. Keys that are not listed here are ignored when a
// request is decoded.
type Overrides struct {
	APIType *string `json:"api_type,omitempty"`

	MaxContextLength *int `json:"max_context_length,omitempty"`
	MaxLength        *int `json:"max_length,omitempty"`
	// NumCtx and NumPredict are accepted as aliases of MaxContextLength and
	// MaxLength.
	NumCtx     *int `json:"num_ctx,omitempty"`
	NumPredict *int `json:"num_predict,omitempty"`

	RepPen      *float64 `json:"rep_pen,omitempty"`
	RepPenRange *int     `json:"rep_pen_range,omitempty"`
	RepPenSlope *float64 `json:"rep_pen_slope,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TFS         *float64 `json:"tfs,omitempty"`
	TopA        *float64 `json:"top_a,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MinP        *float64 `json:"min_p,omitempty"`
	Typical     *float64 `json:"typical,omitempty"`

	SamplerOrder          []int  `json:"sampler_order,omitempty"`
	Singleline            *bool  `json:"singleline,omitempty"`
	UseDefaultBadwordsIDs *bool  `json:"use_default_badwordsids,omitempty"`
	Grammar               string `json:"grammar,omitempty"`
	SamplerSeed           *int   `json:"sampler_seed,omitempty"`

	Mirostat    *int     `json:"mirostat,omitempty"`
	MirostatEta *float64 `json:"mirostat_eta,omitempty"`
	MirostatTau *float64 `json:"mirostat_tau,omitempty"`

	StopSequence []string `json:"stop_sequence,omitempty"`

	DRYAllowedLength    *int     `json:"dry_allowed_length,omitempty"`
	DRYMultiplier       *float64 `json:"dry_multiplier,omitempty"`
	DRYBase             *float64 `json:"dry_base,omitempty"`
	DRYPenaltyLastN     *int     `json:"dry_penalty_last_n,omitempty"`
	DRYSequenceBreakers []string `json:"dry_sequence_breakers,omitempty"`
}

// Settings is the generation payload accepted by koboldcpp.
type Settings struct {
	APIType        string `json:"api_type"`
	Prompt         string `json:"prompt"`
	AddBOSToken    bool   `json:"add_bos_token"`
	UseStory       bool   `json:"use_story"`
	UseMemory      bool   `json:"use_memory"`
	UseAuthorsNote bool   `json:"use_authors_note"`
	UseWorldInfo   bool   `json:"use_world_info"`

	MaxContextLength *int `json:"max_context_length,omitempty"`
	MaxLength        *int `json:"max_length,omitempty"`

	RepPen      float64  `json:"rep_pen"`
	RepPenRange int      `json:"rep_pen_range"`
	RepPenSlope *float64 `json:"rep_pen_slope,omitempty"`
	Temperature float64  `json:"temperature"`
	TFS         *float64 `json:"tfs,omitempty"`
	TopA        *float64 `json:"top_a,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        float64  `json:"top_p"`
	MinP        float64  `json:"min_p"`
	Typical     *float64 `json:"typical,omitempty"`

	SamplerOrder          []int  `json:"sampler_order"`
	Singleline            *bool  `json:"singleline,omitempty"`
	UseDefaultBadwordsIDs *bool  `json:"use_default_badwordsids,omitempty"`
	Grammar               string `json:"grammar,omitempty"`
	SamplerSeed           int    `json:"sampler_seed"`

	Mirostat    *int     `json:"mirostat,omitempty"`
	MirostatEta *float64 `json:"mirostat_eta,omitempty"`
	MirostatTau *float64 `json:"mirostat_tau,omitempty"`

	StopSequence []string `json:"stop_sequence"`

	DRYAllowedLength    int      `json:"dry_allowed_length"`
	DRYMultiplier       float64  `json:"dry_multiplier"`
	DRYBase             float64  `json:"dry_base"`
	DRYPenaltyLastN     int      `json:"dry_penalty_last_n"`
	DRYSequenceBreakers []string `json:"dry_sequence_breakers"`
}

// BuildSettings overlays o on the default generation policy. The reasoning
// markers are added to the DRY sequence breakers unless the caller supplies
// its own list.
func BuildSettings(o Overrides, prompt string, markers models.Markers) Settings {
	return Settings{
		APIType:        valueOr(o.APIType, defaultAPIType),
		Prompt:         prompt,
		AddBOSToken:    true,
		UseStory:       false,
		UseMemory:      false,
		UseAuthorsNote: false,
		UseWorldInfo:   false,

		MaxContextLength: firstSet(o.MaxContextLength, o.NumCtx),
		MaxLength:        firstSet(o.MaxLength, o.NumPredict),

		RepPen:      valueOr(o.RepPen, 1.05),
		RepPenRange: valueOr(o.RepPenRange, 360),
		RepPenSlope: o.RepPenSlope,
		Temperature: valueOr(o.Temperature, 0.70),
		TFS:         o.TFS,
		TopA:        o.TopA,
		TopK:        o.TopK,
		TopP:        valueOr(o.TopP, 0.95),
		MinP:        valueOr(o.MinP, 0.05),
		Typical:     o.Typical,

		SamplerOrder:          sliceOr(o.SamplerOrder, defaultSamplerOrder),
		Singleline:            o.Singleline,
		UseDefaultBadwordsIDs: o.UseDefaultBadwordsIDs,
		Grammar:               o.Grammar,
		SamplerSeed:           valueOr(o.SamplerSeed, -1),

		Mirostat:    o.Mirostat,
		MirostatEta: o.MirostatEta,
		MirostatTau: o.MirostatTau,

		StopSequence: sliceOr(o.StopSequence, DefaultStopSequences),

		DRYAllowedLength:    valueOr(o.DRYAllowedLength, 2),
		DRYMultiplier:       valueOr(o.DRYMultiplier, 0.8),
		DRYBase:             valueOr(o.DRYBase, 1.75),
		DRYPenaltyLastN:     valueOr(o.DRYPenaltyLastN, 320),
		DRYSequenceBreakers: sliceOr(o.DRYSequenceBreakers, SequenceBreakers(markers)),
	}
}

// SequenceBreakers returns the default DRY sequence breakers followed by the
// non-empty reasoning markers of markers.
func SequenceBreakers(markers models.Markers) []string {
	breakers := append([]string(nil), defaultSequenceBreaker...)
	for _, m := range []string{markers.ReasoningOpen, markers.ReasoningClose} {
		if m != "" {
			breakers = append(breakers, m)
		}
	}
	return breakers
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func firstSet[T any](ptrs ...*T) *T {
	for _, p := range ptrs {
		if p != nil {
			return p
		}
	}
	return nil
}

func sliceOr[T any](s, fallback []T) []T {
	if s == nil {
		return append([]T(nil), fallback...)
	}
	return s
}
