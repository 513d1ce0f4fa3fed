package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hervehildenbrand/bgp-replay/pkg/models"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const maxLineSize = 4 << 20

// FileFeed reads line-delimited JSON update records. Files ending in ".zst"
// are zstd-compressed. Reaching the end of the file ends the feed; so does a
// sentinel record. Lines that do not decode are logged and skipped.
type FileFeed struct {
	path   string
	file   *os.File
	dec    *zstd.Decoder
	lines  *bufio.Scanner
	lineNo int
	done   bool

	skipped uint64
	logger  *slog.Logger
}

// OpenFile opens a dump file for replay.
func OpenFile(path string, logger *slog.Logger) (*FileFeed, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &FileFeed{
		path:   path,
		logger: logger.With("component", "file_feed", "path", path),
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileFeed) open() error {
	file, err := os.Open(f.path)
	if err != nil {
		return errors.Wrap(err, "open update dump")
	}

	var r io.Reader = file
	if strings.HasSuffix(f.path, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return errors.Wrap(err, "zstd reader")
		}
		f.dec = dec
		r = dec
	}

	f.file = file
	f.lines = bufio.NewScanner(r)
	f.lines.Buffer(make([]byte, 64*1024), maxLineSize)
	f.lineNo = 0
	f.done = false
	return nil
}

func (f *FileFeed) Next(ctx context.Context) (models.Update, error) {
	if err := ctx.Err(); err != nil {
		return models.Update{}, err
	}
	if f.done {
		return models.EndOfStream(), nil
	}

	for f.lines.Scan() {
		f.lineNo++
		line := strings.TrimSpace(f.lines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var u models.Update
		if err := json.Unmarshal([]byte(line), &u); err != nil {
			f.skipped++
			f.logger.Warn("skipping undecodable record", "line", f.lineNo, "error", err)
			continue
		}
		if u.IsEndOfStream() {
			f.done = true
			f.logger.Info("no more updates to process", "lines", f.lineNo)
		}
		return u, nil
	}

	if err := f.lines.Err(); err != nil {
		return models.Update{}, errors.Wrapf(err, "read %s line %d", f.path, f.lineNo+1)
	}
	f.done = true
	f.logger.Info("no more updates to process", "lines", f.lineNo)
	return models.EndOfStream(), nil
}

// Reset reopens the file from the start.
func (f *FileFeed) Reset() error {
	if err := f.Close(); err != nil {
		return err
	}
	return f.open()
}

// Skipped returns the number of lines that failed to decode.
func (f *FileFeed) Skipped() uint64 {
	return f.skipped
}

// Close releases the underlying file.
func (f *FileFeed) Close() error {
	if f.dec != nil {
		f.dec.Close()
		f.dec = nil
	}
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// Writer records updates as line-delimited JSON, zstd-compressed when the
// path ends in ".zst". A captured live stream can be replayed with OpenFile.
type Writer struct {
	file *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
	json *json.Encoder
}

// CreateFile creates (or truncates) path for writing.
func CreateFile(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create update dump")
	}

	w := &Writer{file: file}
	var out io.Writer = file
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			file.Close()
			return nil, errors.Wrap(err, "zstd writer")
		}
		w.enc = enc
		out = enc
	}
	w.buf = bufio.NewWriter(out)
	w.json = json.NewEncoder(w.buf)
	return w, nil
}

// Write appends one record.
func (w *Writer) Write(u models.Update) error {
	return w.json.Encode(u)
}

// Close terminates the dump with a sentinel and flushes everything.
func (w *Writer) Close() error {
	if err := w.json.Encode(models.EndOfStream()); err != nil {
		w.file.Close()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			w.file.Close()
			return err
		}
	}
	return w.file.Close()
}

// TeeFeed copies every record it yields to a Writer.
type TeeFeed struct {
	src Feed
	w   *Writer
}

// Tee records src to w as it is consumed. The caller closes w.
func Tee(src Feed, w *Writer) *TeeFeed {
	return &TeeFeed{src: src, w: w}
}

func (t *TeeFeed) Next(ctx context.Context) (models.Update, error) {
	u, err := t.src.Next(ctx)
	if err != nil || u.IsEndOfStream() {
		return u, err
	}
	if err := t.w.Write(u); err != nil {
		return models.Update{}, errors.Wrap(err, "record update")
	}
	return u, nil
}

func (t *TeeFeed) Reset() error {
	return ErrNotRestartable
}
