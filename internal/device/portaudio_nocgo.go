//go:build !cgo

package device

import "github.com/rs/zerolog"

// PortAudio is unavailable without cgo.
type PortAudio struct{}

func Open(Config, zerolog.Logger) (*PortAudio, error) { return nil, ErrUnavailable }

func ListInputs() ([]string, error) { return nil, ErrUnavailable }

func ListOutputs() ([]string, error) { return nil, ErrUnavailable }

func (*PortAudio) ReadInputFrame([]int16) error  { return ErrUnavailable }
func (*PortAudio) WriteOutputFrame([]int16) error { return ErrUnavailable }
func (*PortAudio) ActivateInput() error           { return ErrUnavailable }
func (*PortAudio) DeactivateInput() error         { return ErrUnavailable }
func (*PortAudio) ActivateOutput() error          { return ErrUnavailable }
func (*PortAudio) DeactivateOutput() error        { return ErrUnavailable }
func (*PortAudio) Close() error                   { return nil }
