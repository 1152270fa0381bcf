package pipeline

import (
	"errors"
	"fmt"
)

// Stage names one step of a stream loop.
type Stage string

const (
	StageCapture Stage = "capture"
	StageEncode  Stage = "encode"
	StageSend    Stage = "send"
	StageReceive Stage = "receive"
	StageDecode  Stage = "decode"
	StagePlay    Stage = "play"
)

// Kind classifies a failure by the collaborator that produced it.
type Kind string

const (
	KindDevice    Kind = "device"
	KindCodec     Kind = "codec"
	KindTransport Kind = "transport"
)

func (s Stage) Kind() Kind {
	switch s {
	case StageEncode, StageDecode:
		return KindCodec
	case StageSend, StageReceive:
		return KindTransport
	default:
		return KindDevice
	}
}

var (
	ErrShortRead    = errors.New("short read")
	ErrShortWrite   = errors.New("short write")
	ErrAlreadyRun   = errors.New("pipeline already run")
	ErrEmptyPayload = errors.New("encoder produced an empty packet")
)

// Error is a fatal stage failure. Err carries the underlying library error.
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

// NewError tags err with stage and the stage's kind.
func NewError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Kind: stage.Kind(), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s error): %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
