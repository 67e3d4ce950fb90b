package feed

import "context"

// EmitFunc receives one complete line, without its line terminator. An
// error stops the source.
type EmitFunc func(line string) error

// Adapter is a source of raw feed lines. Run blocks until ctx is done or
// emit fails; running out of data is not the end of the stream.
type Adapter interface {
	Run(context.Context, EmitFunc) error
	Close() error
}
