package config

import (
	"os"

	"kobold-gateway/internal/models"
)

// Environment variables that override the default marker set.
const (
	EnvSystemOpen     = "PROMPT_SYSTEM_OPEN"
	EnvSystemClose    = "PROMPT_SYSTEM_CLOSE"
	EnvSystemBreak    = "PROMPT_SYSTEM_BREAK"
	EnvUserOpen       = "PROMPT_USER_OPEN"
	EnvUserClose      = "PROMPT_USER_CLOSE"
	EnvModelOpen      = "PROMPT_MODEL_OPEN"
	EnvModelClose     = "PROMPT_MODEL_CLOSE"
	EnvReasoningOpen  = "REASONING_OPEN"
	EnvReasoningClose = "REASONING_CLOSE"
	EnvStopSequence   = "PROMPT_STOP_SEQUENCE"
)

// DefaultMarkers returns the marker set used when nothing is configured.
func DefaultMarkers() models.Markers {
	return models.Markers{
		SystemOpen:  "[SYSTEM_PROMPT]",
		SystemClose: "[/SYSTEM_PROMPT]\n",
		SystemBreak: "\n",

		UserOpen:  "[INST]",
		UserClose: "[/INST]\n",

		ModelOpen:  "",
		ModelClose: "</s>\n",

		ReasoningOpen:  "[THINK]",
		ReasoningClose: "[/THINK]",

		StopSequence: "</s>",
	}
}

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// ResolveMarkers applies overrides from lookup on top of DefaultMarkers. A
// variable that is set to the empty string clears the marker.
func ResolveMarkers(lookup LookupFunc) models.Markers {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	m := DefaultMarkers()
	fields := []struct {
		key string
		dst *string
	}{
		{EnvSystemOpen, &m.SystemOpen},
		{EnvSystemClose, &m.SystemClose},
		{EnvSystemBreak, &m.SystemBreak},
		{EnvUserOpen, &m.UserOpen},
		{EnvUserClose, &m.UserClose},
		{EnvModelOpen, &m.ModelOpen},
		{EnvModelClose, &m.ModelClose},
		{EnvReasoningOpen, &m.ReasoningOpen},
		{EnvReasoningClose, &m.ReasoningClose},
		{EnvStopSequence, &m.StopSequence},
	}
	for _, f := range fields {
		if v, ok := lookup(f.key); ok {
			*f.dst = v
		}
	}
	return m
}
