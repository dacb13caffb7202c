package config

import (
	"fmt"
	"strings"

	"github.com/MrWong99/lugha/pkg/audio"
	"github.com/MrWong99/lugha/pkg/provider/live"
)

// Persona defaults.
const (
	DefaultLanguage = "swahili"
	DefaultVoice    = "Zephyr"
)

// Language is a tutored language.
type Language struct {
	// ID is the config key (e.g., "swahili").
	ID string

	// Name is the display name used in the tutor instruction.
	Name string
}

// Languages lists the languages the tutor teaches.
var Languages = []Language{
	{ID: "swahili", Name: "Swahili"},
	{ID: "luo", Name: "Luo"},
	{ID: "kikuyu", Name: "Kikuyu"},
	{ID: "kalenjin", Name: "Kalenjin"},
}

// LookupLanguage returns the language with the given ID, ignoring case.
func LookupLanguage(id string) (Language, bool) {
	for _, l := range Languages {
		if strings.EqualFold(l.ID, id) {
			return l, true
		}
	}
	return Language{}, false
}

func languageIDs() string {
	ids := make([]string, len(Languages))
	for i, l := range Languages {
		ids[i] = l.ID
	}
	return strings.Join(ids, ", ")
}

// TutorInstruction returns the default system instruction for a tutor of
// the named language.
func TutorInstruction(name string) string {
	return fmt.Sprintf("You are a friendly and encouraging %s language tutor. "+
		"Keep your responses short and conversational. Guide the user to practice speaking.", name)
}

// SystemInstruction returns the configured instruction, or the default tutor
// instruction for the configured language.
func (s SessionConfig) SystemInstruction() string {
	if s.Instructions != "" {
		return s.Instructions
	}
	id := s.Language
	if id == "" {
		id = DefaultLanguage
	}
	lang, ok := LookupLanguage(id)
	if !ok {
		lang = Language{ID: id, Name: id}
	}
	return TutorInstruction(lang.Name)
}

// LiveConfig builds the connection settings of a session from the provider
// and session sections. InputSampleRate is left to the capture device.
func (c *Config) LiveConfig() live.Config {
	voice := c.Session.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	out := c.Session.OutputSampleRate
	if out <= 0 {
		out = audio.DefaultOutputSampleRate
	}
	return live.Config{
		Model:               c.Provider.Model,
		Voice:               voice,
		Instructions:        c.Session.SystemInstruction(),
		OutputSampleRate:    out,
		InputTranscription:  c.Session.InputTranscriptionEnabled(),
		OutputTranscription: c.Session.OutputTranscriptionEnabled(),
	}
}

// InputConfig returns the capture format of the session section.
func (c *Config) InputConfig() audio.InputConfig {
	return audio.InputConfig{
		SampleRate: c.Session.InputSampleRate,
		BlockSize:  c.Session.BlockSize,
	}.WithDefaults()
}

// OutputConfig returns the playback format of the session section.
func (c *Config) OutputConfig() audio.OutputConfig {
	return audio.OutputConfig{SampleRate: c.Session.OutputSampleRate}.WithDefaults()
}
