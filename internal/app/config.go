package app

import (
	"io"
	"net/http"

	"sealroom/internal/domain"
)

// Options holds runtime wiring inputs that do not come from the config file.
type Options struct {
	Home       string // overrides SEALROOM_HOME and the default ~/.sealroom
	ConfigPath string // defaults to <home>/config.yaml
	LogOutput  io.Writer
	HTTP       *http.Client     // optional relay transport
	Biometric  domain.Biometric // optional platform biometric
}
