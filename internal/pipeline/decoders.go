package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"gosnoop/internal/hci"
	"gosnoop/internal/toolexec"
	"gosnoop/internal/tshark"

	"go.uber.org/zap"
)

// Decoder names accepted by SelectDecoder.
const (
	DecoderAuto   = "auto"
	DecoderTshark = "tshark"
	DecoderNative = "native"
)

// Decoder turns a snoop log into a stream of JSON records.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, path string, emit func(json.RawMessage) error) error
}

// SelectDecoder picks a decoder by name. Auto prefers tshark and falls
// back to the native decoder when tshark is not installed.
func SelectDecoder(name string, ts *tshark.Decoder, log *zap.Logger) (Decoder, error) {
	switch name {
	case "", DecoderAuto:
		if ts.Available() {
			return ts, nil
		}
		log.Info("tshark not found, using native decoder", zap.String("tshark", ts.Path))
		return hci.NewDecoder(log), nil
	case DecoderTshark:
		if !ts.Available() {
			return nil, fmt.Errorf("%w: %s", toolexec.ErrToolNotFound, ts.Path)
		}
		return ts, nil
	case DecoderNative:
		return hci.NewDecoder(log), nil
	}
	return nil, fmt.Errorf("unknown decoder %q (want auto, tshark or native)", name)
}
