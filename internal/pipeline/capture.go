package pipeline

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gosnoop/internal/btsnoop"
	"gosnoop/internal/hci"
	"gosnoop/internal/htmsg"
	"gosnoop/internal/models"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// linkTypeH4WithPHDR is LINKTYPE_BLUETOOTH_HCI_H4_WITH_PHDR: H4 frames
// behind a 4-byte big-endian direction word.
const linkTypeH4WithPHDR = layers.LinkType(201)

// sideOutput returns the path next to the job output with a new suffix.
func sideOutput(job models.Job, suffix string) string {
	return strings.TrimSuffix(job.Output, filepath.Ext(job.Output)) + suffix
}

// scanResult holds the side outputs of a capture scan. They are committed
// only after the main output is written.
type scanResult struct {
	files []*atomicFile
}

func (s *scanResult) commit() error {
	for _, f := range s.files {
		if err := f.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanResult) abort() {
	for _, f := range s.files {
		f.Abort()
	}
}

// scan reads the capture natively, feeding run stats and writing the
// optional pcap and message outputs.
func (r *Runner) scan(ctx context.Context, job models.Job, snoop string, log *zap.Logger) (*scanResult, error) {
	res := &scanResult{}

	in, err := os.Open(snoop)
	if err != nil {
		return res, err
	}
	defer in.Close()

	var pw *pcapgo.Writer
	var pcapBuf *bufio.Writer
	if r.opts.Pcap {
		f, err := createAtomic(sideOutput(job, ".pcap"))
		if err != nil {
			return res, err
		}
		res.files = append(res.files, f)
		pcapBuf = bufio.NewWriter(f)
		pw = pcapgo.NewWriter(pcapBuf)
		if err := pw.WriteFileHeader(65535, linkTypeH4WithPHDR); err != nil {
			return res, fmt.Errorf("pcap header: %w", err)
		}
	}

	var parser *htmsg.Parser
	parsing := false
	if r.opts.Parse {
		f, err := createAtomic(sideOutput(job, ".messages.csv"))
		if err != nil {
			return res, err
		}
		res.files = append(res.files, f)
		parser, err = htmsg.NewParser(f, log)
		if err != nil {
			return res, err
		}
		parsing = true
	}

	dis := hci.NewDissector()
	_, err = hci.ReadFrames(in, func(f models.Frame) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, payloads := dis.Dissect(f)
		r.stats.ProcessFrame(job.Name, f, &rec)

		if pw != nil {
			if err := writePcap(pw, f); err != nil {
				return fmt.Errorf("pcap frame %d: %w", f.Number, err)
			}
		}

		for _, p := range payloads {
			if !parsing {
				break
			}
			dir := htmsg.DirPhoneToRadio
			if p.Direction == models.Received {
				dir = htmsg.DirRadioToPhone
			}
			if err := parser.Feed(strconv.Itoa(p.Frame), dir, p.Data); err != nil {
				// One bad message ends parsing for this capture; the
				// conversion itself goes on.
				log.Warn("message parser stopped", zap.Int("frame", p.Frame), zap.Error(err))
				r.stats.ReportParseError(job.Name, p.Frame, err)
				parsing = false
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if pcapBuf != nil {
		if err := pcapBuf.Flush(); err != nil {
			return res, err
		}
	}
	if parser != nil {
		if err := parser.Flush(); err != nil {
			return res, err
		}
		log.Debug("messages parsed", zap.Int("rows", parser.Rows()))
	}
	return res, nil
}

func writePcap(w *pcapgo.Writer, f models.Frame) error {
	data := make([]byte, 4, 4+len(f.Data))
	if f.Direction == models.Received {
		binary.BigEndian.PutUint32(data, 1)
	}
	data = append(data, f.Data...)

	length := f.OriginalLength + 4
	if length < len(data) {
		length = len(data)
	}
	return w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     f.Timestamp,
		CaptureLength: len(data),
		Length:        length,
	}, data)
}

// unsupportedCapture reports whether err means the capture cannot be read
// natively, as opposed to being damaged.
func unsupportedCapture(err error) bool {
	return errors.Is(err, btsnoop.ErrUnsupportedDatalink) ||
		errors.Is(err, btsnoop.ErrUnsupportedVersion) ||
		errors.Is(err, btsnoop.ErrBadMagic)
}
