package hci

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gosnoop/internal/models"

	"go.uber.org/zap"
)

// Decoder converts a btsnoop file to JSON records without external tools.
type Decoder struct {
	log *zap.Logger
}

func NewDecoder(log *zap.Logger) *Decoder {
	return &Decoder{log: log}
}

func (d *Decoder) Name() string { return "native" }

// Decode emits one JSON object per frame in capture order.
func (d *Decoder) Decode(ctx context.Context, path string, emit func(json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dis := NewDissector()
	count := 0
	hdr, err := ReadFrames(f, func(fr models.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, _ := dis.Dissect(fr)
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("frame %d: %w", fr.Number, err)
		}
		count++
		return emit(b)
	})
	if err != nil {
		return fmt.Errorf("native decode %s: %w", path, err)
	}

	d.log.Debug("native decode finished",
		zap.String("file", path),
		zap.Stringer("datalink", hdr.Datalink),
		zap.Int("records", count))
	return nil
}
