package engine

import (
	"github.com/banshee-data/bragg.report/internal/monitoring"
	"github.com/banshee-data/bragg.report/internal/om/correction"
	"github.com/banshee-data/bragg.report/internal/om/data"
	"github.com/banshee-data/bragg.report/internal/om/extract"
	"github.com/banshee-data/bragg.report/internal/om/omerr"
	"github.com/banshee-data/bragg.report/internal/om/peakfind"
	"github.com/banshee-data/bragg.report/internal/om/source"
)

// ProcessorParams is the worker-side tuning read from the configuration.
type ProcessorParams struct {
	// NumFramesInEventToProcess restricts processing to the last k frames
	// of each event. Zero processes every frame.
	NumFramesInEventToProcess int
	// FrameIndexesToSkip lists absolute frame offsets never processed.
	FrameIndexesToSkip []int

	MinNumPeaksForHit int
	MaxNumPeaksForHit int
	SaturationValue   float64
	MaxSaturatedPeaks int

	// Raw-frame sampling intervals. Zero disables sampling.
	HitFrameSendingInterval    int
	NonHitFrameSendingInterval int
}

// Processor reduces one frame at a time. Each worker owns one Processor;
// its scratch state is not safe for concurrent use.
type Processor struct {
	params     ProcessorParams
	correction *correction.Correction
	finder     *peakfind.Finder
	table      *extract.Table
	skip       map[int]struct{}

	scratch       *data.Slab
	hitCounter    int
	nonHitCounter int
	warnings      int
}

// RequiredData lists the extraction names the crystallography processor
// consumes. The configured required_data must cover them.
var RequiredData = []string{"timestamp", "detector_data", "beam_energy", "detector_distance"}

// NewProcessor wires a processor from its parts.
func NewProcessor(params ProcessorParams, corr *correction.Correction, finder *peakfind.Finder, table *extract.Table) (*Processor, error) {
	resolved := map[string]bool{}
	for _, name := range table.Names() {
		resolved[name] = true
	}
	for _, name := range RequiredData {
		if !resolved[name] {
			return nil, omerr.New(omerr.KindConfig,
				"required_data must include %q for crystallography processing", name)
		}
	}

	skip := make(map[int]struct{}, len(params.FrameIndexesToSkip))
	for _, idx := range params.FrameIndexesToSkip {
		skip[idx] = struct{}{}
	}
	return &Processor{
		params:     params,
		correction: corr,
		finder:     finder,
		table:      table,
		skip:       skip,
		scratch:    data.NewSlab(finder.Shape()),
	}, nil
}

// Warnings reports how many frames this processor has skipped.
func (p *Processor) Warnings() int { return p.warnings }

// ProcessFrame extracts, corrects and reduces one frame. A nil record with
// a nil error means the frame was skipped (warning already counted).
func (p *Processor) ProcessFrame(frame *data.Frame, log func(format string, v ...interface{})) (*data.ProcessedRecord, error) {
	values, err := p.table.Extract(frame)
	if err != nil {
		p.warnings++
		log("skipping frame %d: %v (%d warnings so far)", frame.Offset, err, p.warnings)
		return nil, nil
	}

	img := values["detector_data"].Image
	if img == nil {
		p.warnings++
		log("skipping frame %d: detector_data is not an image (%d warnings so far)", frame.Offset, p.warnings)
		return nil, nil
	}

	corrected, err := p.correction.Apply(img, p.scratch)
	if err != nil {
		return nil, err
	}
	peaks, err := p.finder.FindPeaks(corrected)
	if err != nil {
		return nil, err
	}

	frameIsHit, frameIsSaturated := p.classify(peaks)

	rec := &data.ProcessedRecord{
		Timestamp:        values["timestamp"].Float,
		FrameIsHit:       frameIsHit,
		FrameIsSaturated: frameIsSaturated,
		BeamEnergy:       values["beam_energy"].Float,
		DetectorDistance: values["detector_distance"].Float,
		NativeDataShape:  img.Shape,
	}
	if frameIsHit {
		rec.PeakList = peaks
	}

	if p.sampleFrame(frameIsHit) {
		rec.DetectorData = corrected.Clone()
	}
	return rec, nil
}

// classify applies the hit and saturation predicates to a peak list. A
// frame is saturated when at least max_saturated_peaks of its peaks
// integrate above the saturation value.
func (p *Processor) classify(peaks data.PeakList) (hit, saturated bool) {
	count := 0
	for _, intensity := range peaks.Intensity {
		if float64(intensity) > p.params.SaturationValue {
			count++
		}
	}
	saturated = count >= p.params.MaxSaturatedPeaks && p.params.MaxSaturatedPeaks > 0
	hit = p.params.MinNumPeaksForHit < peaks.Len() && peaks.Len() < p.params.MaxNumPeaksForHit
	return hit, saturated
}

// sampleFrame advances the hit or non-hit sampling counter and reports
// whether this frame's corrected pixels ride along to the master.
func (p *Processor) sampleFrame(hit bool) bool {
	if hit {
		if p.params.HitFrameSendingInterval == 0 {
			return false
		}
		p.hitCounter++
		if p.hitCounter == p.params.HitFrameSendingInterval {
			p.hitCounter = 0
			return true
		}
		return false
	}
	if p.params.NonHitFrameSendingInterval == 0 {
		return false
	}
	p.nonHitCounter++
	if p.nonHitCounter == p.params.NonHitFrameSendingInterval {
		p.nonHitCounter = 0
		return true
	}
	return false
}

// worker is one processing node: it pulls events from its iterator share
// and streams reduced records to the master.
type worker struct {
	rank      int
	processor *Processor
	events    source.Iterator
	out       chan<- workerMsg
	die       <-chan struct{}
}

func (w *worker) run() {
	log := monitoring.WithRank(w.rank)

	for w.events.Next() {
		// A shutdown request is honored at event granularity: the current
		// event is never split.
		select {
		case <-w.die:
			log.Infof("shutting down")
			w.out <- workerMsg{kind: msgDead, rank: w.rank}
			return
		default:
		}

		event := w.events.Event()
		if err := event.Open(); err != nil {
			log.Warnf("cannot open event: %v", err)
			continue
		}
		if err := w.processEvent(event, log.Warnf); err != nil {
			log.Errorf("abandoning event: %v", err)
		}
	}
	if err := w.events.Err(); err != nil {
		log.Errorf("event iteration failed: %v", err)
	}

	w.out <- workerMsg{kind: msgEnd, rank: w.rank}
}

// processEvent reduces the selected frames of one open event. The event is
// closed on every path.
func (w *worker) processEvent(event data.Event, warnf func(string, ...interface{})) error {
	defer event.Close()

	n, err := event.NumFrames()
	if err != nil {
		warnf("cannot count frames in event: %v", err)
		return nil
	}

	toProcess := n
	if k := w.processor.params.NumFramesInEventToProcess; k > 0 && k < n {
		toProcess = k
	}

	// The last toProcess frames of the event, oldest first.
	for offset := n - toProcess; offset < n; offset++ {
		if _, skip := w.processor.skip[offset]; skip {
			continue
		}
		rec, err := w.processor.ProcessFrame(&data.Frame{Event: event, Offset: offset}, warnf)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		w.out <- workerMsg{kind: msgData, rank: w.rank, record: rec}
	}
	return nil
}
