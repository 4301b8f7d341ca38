package source

import (
	"bufio"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/banshee-data/bragg.report/internal/conf"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/extract"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/om/refdata"
)

// FileListName is the registry key of the file-list adapter.
const FileListName = "filelist"

func init() {
	Register(FileListName, NewFileList)
}

// FileList retrieves events from HDF5 files named, one per line, by a
// list file. Each file is one event; the detector frames live in a
// configurable dataset. Beam energy and detector distance are not stored
// in such files, so the adapter serves configured fallback values, and
// the file modification time approximates the event timestamp.
type FileList struct {
	dataPath         string
	beamEnergy       float64
	detectorDistance float64
}

// NewFileList builds the adapter from [DataRetrievalLayer] parameters.
func NewFileList(params *conf.MonitorParams) (*FileList, error) {
	a := &FileList{dataPath: "/data"}
	if !params.HasGroup("DataRetrievalLayer") {
		return a, nil
	}
	if v, ok, err := params.OptionalString("DataRetrievalLayer", "hdf5_data_path"); err != nil {
		return nil, err
	} else if ok {
		a.dataPath = v
	}
	var err error
	if a.beamEnergy, _, err = params.OptionalFloat("DataRetrievalLayer", "fallback_beam_energy_in_eV"); err != nil {
		return nil, err
	}
	if a.detectorDistance, _, err = params.OptionalFloat("DataRetrievalLayer", "fallback_detector_distance_in_mm"); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize validates that the list file is readable. There is no
// facility handshake for file-based retrieval.
func (a *FileList) Initialize(source string, poolSize int) error {
	if _, err := os.Stat(source); err != nil {
		return omerr.Wrap(omerr.KindDependency, err, "cannot read the source file list %s", source)
	}
	return nil
}

// Events reads the list file and returns this worker's slice of it. Worker
// r takes the r-th chunk of ⌈N/(P−1)⌉ entries; the last non-empty chunk
// holds the remainder, and ranks beyond it get no entries.
func (a *FileList) Events(source string, rank, poolSize int) (Iterator, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, omerr.Wrap(omerr.KindDependency, err, "cannot read the source file list %s", source)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			files = append(files, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, omerr.Wrap(omerr.KindDependency, err, "cannot read the source file list %s", source)
	}

	share := Partition(files, rank, poolSize)
	return &fileIterator{adapter: a, files: share}, nil
}

// Partition returns the slice of entries assigned to a worker rank.
func Partition(entries []string, rank, poolSize int) []string {
	workers := poolSize - 1
	if workers < 1 || len(entries) == 0 {
		return nil
	}
	per := (len(entries) + workers - 1) / workers
	chunks := lo.Chunk(entries, per)
	if rank-1 >= len(chunks) {
		return nil
	}
	return chunks[rank-1]
}

type fileIterator struct {
	adapter *FileList
	files   []string
	pos     int
	current data.Event
}

func (it *fileIterator) Next() bool {
	if it.pos >= len(it.files) {
		return false
	}
	it.current = &fileEvent{adapter: it.adapter, path: it.files[it.pos]}
	it.pos++
	return true
}

func (it *fileIterator) Event() data.Event { return it.current }

func (it *fileIterator) Err() error { return nil }

// fileEvent is one HDF5 file from the list.
type fileEvent struct {
	adapter *FileList
	path    string
	info    map[string]interface{}
}

func (e *fileEvent) Open() error {
	st, err := os.Stat(e.path)
	if err != nil {
		return omerr.Wrap(omerr.KindDataExtraction, err, "cannot open event file %s", e.path)
	}
	// The file modification time is the first approximation of the event
	// timestamp when the facility records none.
	e.info = map[string]interface{}{
		"full_path":          e.path,
		"file_creation_time": float64(st.ModTime().UnixNano()) / 1e9,
		"hdf5_data_path":     e.adapter.dataPath,
	}
	return nil
}

func (e *fileEvent) Close() error {
	e.info = nil
	return nil
}

func (e *fileEvent) NumFrames() (int, error) {
	return refdata.FrameCount(e.path, e.adapter.dataPath)
}

func (e *fileEvent) FacilityInfo() map[string]interface{} { return e.info }

// ExtractionFunc resolves the extraction names served by this adapter.
func (a *FileList) ExtractionFunc(name string) (extract.Func, bool) {
	switch name {
	case "timestamp":
		return func(f *data.Frame) (extract.Value, error) {
			ts, ok := f.Event.FacilityInfo()["file_creation_time"].(float64)
			if !ok {
				return extract.Value{}, omerr.New(omerr.KindDataExtraction, "event carries no timestamp")
			}
			return extract.FloatValue(ts), nil
		}, true
	case "detector_data":
		return func(f *data.Frame) (extract.Value, error) {
			info := f.Event.FacilityInfo()
			path, _ := info["full_path"].(string)
			dataPath, _ := info["hdf5_data_path"].(string)
			slab, err := refdata.LoadFrame(path, dataPath, f.Offset)
			if err != nil {
				return extract.Value{}, err
			}
			return extract.ImageValue(slab), nil
		}, true
	case "beam_energy":
		return func(*data.Frame) (extract.Value, error) {
			return extract.FloatValue(a.beamEnergy), nil
		}, true
	case "detector_distance":
		return func(*data.Frame) (extract.Value, error) {
			return extract.FloatValue(a.detectorDistance), nil
		}, true
	default:
		return nil, false
	}
}
