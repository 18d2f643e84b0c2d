package serstack

// FrameSource supplies reconstructed frames to the stacking and selection
// engines. Native sources read frames directly from a SER container; sources
// decoded through a video codec report Native() == false, which routes them
// through lucky selection since their inter-frame motion is assumed large.
type FrameSource interface {
	FrameCount() int
	Frame(index int) (*RGBImage, error)
	Native() bool
	Close() error
}

// SERSource adapts a Parser plus a Reconstructor into a FrameSource.
type SERSource struct {
	parser *Parser
	rec    *Reconstructor
}

// NewSERSource wraps an open parser. The source does not take ownership of
// the parser; closing the source closes it.
func NewSERSource(p *Parser, rec *Reconstructor) *SERSource {
	return &SERSource{parser: p, rec: rec}
}

func (s *SERSource) FrameCount() int { return s.parser.Header().FrameCount }

func (s *SERSource) Frame(index int) (*RGBImage, error) {
	raw, err := s.parser.Frame(index)
	if err != nil {
		return nil, err
	}
	return s.rec.Reconstruct(raw, s.parser.Header().ColorID), nil
}

func (s *SERSource) Native() bool { return true }

func (s *SERSource) Close() error { return s.parser.Close() }
