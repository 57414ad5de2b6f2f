package emv

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gregLibert/smart-pos/pkg/iso7816"
	"github.com/gregLibert/smart-pos/pkg/tlv"
)

// Step is a stage of the card read exchange. Steps only move forward;
// StepFailed absorbs every error.
type Step int

const (
	StepInit Step = iota
	StepPPSESelected
	StepAIDSelected
	StepOptionsObtained
	StepRecordsRead
	StepDone
	StepFailed
)

var stepNames = map[Step]string{
	StepInit:            "Init",
	StepPPSESelected:    "PPSESelected",
	StepAIDSelected:     "AIDSelected",
	StepOptionsObtained: "OptionsObtained",
	StepRecordsRead:     "RecordsRead",
	StepDone:            "Done",
	StepFailed:          "Failed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// ProtocolError reports a card that answered a mandatory command with
// something other than 9000, or a PPSE without any application.
type ProtocolError struct {
	Step   Step // last step reached before the failure
	Status iso7816.StatusWord
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s (after %s)", e.Reason, e.Step)
	}
	return fmt.Sprintf("%s (after %s): %s", e.Reason, e.Step, e.Status.Verbose())
}

// AIDSelection chooses the application to select from the PPSE answer.
type AIDSelection int

const (
	// FirstAID takes the leftmost tag 4F of the PPSE answer.
	FirstAID AIDSelection = iota
	// PriorityAID ranks the directory entries by priority indicator.
	PriorityAID
)

// RecordSource chooses which records are read after GET PROCESSING OPTIONS.
type RecordSource int

const (
	// ScanRecords tries SFI 1 to 5, records 1 to 10, leaving an SFI at the
	// first record the card refuses.
	ScanRecords RecordSource = iota
	// AFLRecords reads the records listed by the AFL, and scans when the
	// card returned none.
	AFLRecords
)

const (
	scanMaxSFI    = 5
	scanMaxRecord = 10
)

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithAIDSelection sets the application selection mode.
func WithAIDSelection(mode AIDSelection) SequencerOption {
	return func(s *Sequencer) { s.aidSelection = mode }
}

// WithRecordSource sets how records are located.
func WithRecordSource(src RecordSource) SequencerOption {
	return func(s *Sequencer) { s.recordSource = src }
}

// WithLogger sets the logger used for per-step traces.
func WithLogger(l *slog.Logger) SequencerOption {
	return func(s *Sequencer) { s.logger = l }
}

// Sequencer drives SELECT PPSE, SELECT AID, GET PROCESSING OPTIONS and
// READ RECORD against one card. A Sequencer reads a single card; create a
// new one for each tap.
type Sequencer struct {
	client       *iso7816.Client
	aidSelection AIDSelection
	recordSource RecordSource
	logger       *slog.Logger

	step Step
	aid  []byte
}

// NewSequencer returns a Sequencer talking to card.
func NewSequencer(card iso7816.Transmitter, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		client: iso7816.NewClient(card),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Step returns the stage reached so far.
func (s *Sequencer) Step() Step {
	return s.step
}

// AID returns the selected application, once StepAIDSelected is reached.
func (s *Sequencer) AID() []byte {
	return s.aid
}

// Read runs the whole exchange and returns the card data. The selected AID
// is added as tag 4F when the card did not repeat it.
func (s *Sequencer) Read(ctx context.Context) (*CardData, error) {
	raw, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	tags := tlv.ParseNested(raw)
	if !tags.Has(TagAID) {
		tags.Set(TagAID, hex.EncodeToString(s.aid))
	}
	return NewCardData(tags), nil
}

// ReadRaw runs the whole exchange and returns the application selection
// answer, the GPO answer and every record, concatenated.
func (s *Sequencer) ReadRaw(ctx context.Context) ([]byte, error) {
	if s.step != StepInit {
		return nil, fmt.Errorf("sequencer already used (step %s)", s.step)
	}
	out, err := s.run(ctx)
	if err != nil {
		s.logger.Warn("card read failed", "step", s.step, "error", err)
		s.step = StepFailed
		return nil, err
	}
	s.step = StepDone
	return out, nil
}

func (s *Sequencer) run(ctx context.Context) ([]byte, error) {
	ppse, err := s.mandatory(ctx, iso7816.SelectPPSE(), "PPSE selection failed")
	if err != nil {
		return nil, err
	}
	s.advance(StepPPSESelected)

	aid, err := s.chooseAID(ppse)
	if err != nil {
		return nil, err
	}
	s.aid = aid

	app, err := s.mandatory(ctx, iso7816.SelectByName(iso7816.ClassInterindustry, aid), "application selection failed")
	if err != nil {
		return nil, err
	}
	s.advance(StepAIDSelected, "aid", fmt.Sprintf("%X", aid))

	gpo, err := s.mandatory(ctx, iso7816.GetProcessingOptions(iso7816.EmptyPDOL), "get processing options failed")
	if err != nil {
		return nil, err
	}
	s.advance(StepOptionsObtained)

	records, err := s.readRecords(ctx, gpo)
	if err != nil {
		return nil, err
	}
	s.advance(StepRecordsRead, "bytes", len(records))

	out := make([]byte, 0, len(app)+len(gpo)+len(records))
	out = append(out, app...)
	out = append(out, gpo...)
	out = append(out, records...)
	return out, nil
}

func (s *Sequencer) advance(step Step, attrs ...any) {
	s.step = step
	s.logger.Debug("card read step", append([]any{"step", step}, attrs...)...)
}

// mandatory sends cmd and requires a 9000 answer.
func (s *Sequencer) mandatory(ctx context.Context, cmd *iso7816.CommandAPDU, reason string) ([]byte, error) {
	trace, err := s.client.Send(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", reason, err)
	}
	if !trace.IsSuccess() {
		return nil, &ProtocolError{Step: s.step, Status: trace.Status(), Reason: reason}
	}
	return trace.Data(), nil
}

func (s *Sequencer) chooseAID(ppse []byte) ([]byte, error) {
	if s.aidSelection == PriorityAID {
		fci, err := ParseFCI(ppse)
		if err == nil {
			if apps := fci.Applications(); len(apps) > 0 {
				return apps[0].AID, nil
			}
		} else {
			s.logger.Debug("PPSE answer is not a well-formed FCI, using first AID", "error", err)
		}
	}

	aid, ok := tlv.FindFirst(ppse, TagAID)
	if !ok || aid == "" {
		return nil, &ProtocolError{Step: s.step, Reason: "no AID in PPSE response"}
	}
	return hex.DecodeString(aid)
}

func (s *Sequencer) readRecords(ctx context.Context, gpo []byte) ([]byte, error) {
	if s.recordSource == AFLRecords {
		opts, err := ParseProcessingOptions(gpo)
		switch {
		case err != nil:
			s.logger.Debug("no usable AFL, scanning records", "error", err)
		case len(opts.AFL) == 0:
			s.logger.Debug("empty AFL, scanning records")
		default:
			return s.readAFL(ctx, opts.AFL)
		}
	}
	return s.scanRecords(ctx)
}

func (s *Sequencer) readAFL(ctx context.Context, afl AFL) ([]byte, error) {
	var out []byte
	for _, ref := range afl.Records() {
		data, ok, err := s.readRecord(ctx, ref.SFI, ref.Record)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, data...)
		}
	}
	return out, nil
}

func (s *Sequencer) scanRecords(ctx context.Context) ([]byte, error) {
	var out []byte
	for sfi := byte(1); sfi <= scanMaxSFI; sfi++ {
		for rec := byte(1); rec <= scanMaxRecord; rec++ {
			data, ok, err := s.readRecord(ctx, sfi, rec)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			out = append(out, data...)
		}
	}
	return out, nil
}

// readRecord reports ok=false when the card refuses the record. Only
// transport failures are errors.
func (s *Sequencer) readRecord(ctx context.Context, sfi, rec byte) ([]byte, bool, error) {
	trace, err := s.client.Send(ctx, iso7816.ReadRecord(iso7816.ClassInterindustry, sfi, rec))
	if err != nil {
		return nil, false, fmt.Errorf("read record %d of SFI %d: %w", rec, sfi, err)
	}
	if !trace.IsSuccess() {
		s.logger.Debug("record refused", "sfi", sfi, "record", rec, "status", trace.Status())
		return nil, false, nil
	}
	return trace.Data(), true, nil
}
