// Package snapshot saves and loads statistics tracker state so a later run
// can resume counting where an earlier one stopped.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

const Version = 1

// Header is written as a JSON line ahead of the msgpack body so a snapshot
// can be identified without decoding it.
type Header struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	Mode    string `json:"mode"`
	Tick    int    `json:"tick"`
	Records int    `json:"records"`
}

// Save writes snap to path, replacing any previous file only once the new
// one is complete.
func Save(path string, snap volley.TrackerSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(path string, snap volley.TrackerSnapshot) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(Header{
		Version: Version,
		RunID:   snap.RunID,
		Mode:    snap.Mode,
		Tick:    snap.Tick,
		Records: len(snap.Records),
	})
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := msgpack.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("msgpack encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Load reads a snapshot written by Save.
func Load(path string) (volley.TrackerSnapshot, error) {
	var snap volley.TrackerSnapshot
	h, br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := msgpack.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("msgpack decode: %w", err)
	}
	return snap, nil
}

// ReadHeader reads only the header line.
func ReadHeader(path string) (Header, error) {
	h, _, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	closeFn()
	return h, nil
}

func open(path string) (Header, *bufio.Reader, func(), error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return h, nil, nil, err
	}
	closeFn := func() {
		dec.Close()
		_ = f.Close()
	}
	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		closeFn()
		return h, nil, nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		closeFn()
		return h, nil, nil, fmt.Errorf("decode header: %w", err)
	}
	return h, br, closeFn, nil
}
