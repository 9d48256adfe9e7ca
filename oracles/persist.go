package oracles

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/datasets"
)

const snapshotVersion = 1

// snapshot is the on-disk form of an oracle: a zstd-compressed gob record.
type snapshot struct {
	Version   int
	Name      string
	Transform datasets.Transform
	NoiseStd  float64
	Params    Params
	Model     []byte
}

// Save writes the oracle's format, parameters and model state to path. The
// file is written beside path and renamed into place.
func (o *Oracle) Save(path string) (err error) {
	state, err := o.model.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode model of %s: %w", o.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	err = gob.NewEncoder(zw).Encode(snapshot{
		Version:   snapshotVersion,
		Name:      o.name,
		Transform: o.expected,
		NoiseStd:  o.noiseStd,
		Params:    o.params,
		Model:     state,
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to save oracle %s: %w", o.name, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}
	log.Info().Str("oracle", o.name).Str("path", path).Msg("saved oracle")
	return nil
}

// load restores a snapshot written by Save into o. A noise level already set
// on o takes precedence over the one recorded in the snapshot.
func (o *Oracle) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open oracle snapshot: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	var s snapshot
	if err := gob.NewDecoder(zr).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode oracle snapshot %s: %w", path, err)
	}
	if s.Version != snapshotVersion {
		return fmt.Errorf("oracle snapshot %s has version %d, expected %d", path, s.Version, snapshotVersion)
	}
	if err := o.model.UnmarshalBinary(s.Model); err != nil {
		return fmt.Errorf("failed to restore model of %s: %w", s.Name, err)
	}
	o.name = s.Name
	o.expected = s.Transform
	if o.noiseStd == 0 {
		o.noiseStd = s.NoiseStd
	}
	o.params = s.Params
	log.Info().Str("oracle", o.name).Str("path", path).Str("format", o.expected.Format.String()).Msg("loaded oracle")
	return nil
}
