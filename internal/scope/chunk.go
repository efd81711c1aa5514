package scope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/transport"
)

var (
	// ErrReassemblyStalled is returned when data frames stop arriving before
	// the declared total has been received.
	ErrReassemblyStalled = errors.New("scope: waveform transfer stalled")
	// ErrFrameTooLarge is returned for frames declaring more bytes than the
	// configured maximum.
	ErrFrameTooLarge = errors.New("scope: frame exceeds maximum size")
)

const (
	waveformQuery = "WAVEFORM:DATA:ALL?"
	// lengthPrefix is the tag plus the current length column, enough to size
	// the rest of a frame.
	lengthPrefix = 11
)

// readWaveform requests the preamble and then data frames until the total
// declared by the preamble has arrived.
func (s *Scope) readWaveform(ctx context.Context) (Preamble, []byte, error) {
	defer s.t.SetTimeout(s.cfg.Timeout)

	if err := s.t.Write(ctx, waveformQuery); err != nil {
		return Preamble{}, nil, err
	}
	frame, err := s.readFrame(ctx, s.cfg.PreambleTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			return Preamble{}, nil, fmt.Errorf("%w: no preamble: %v", ErrMalformedPreamble, err)
		}
		return Preamble{}, nil, err
	}
	p, err := DecodePreamble(frame)
	if err != nil {
		return Preamble{}, nil, err
	}

	payload, err := s.reassemble(ctx, p.TotalLength)
	if err != nil {
		return Preamble{}, nil, err
	}
	return p, payload, nil
}

// reassemble collects data frame payloads until total bytes are held.
func (s *Scope) reassemble(ctx context.Context, total int) ([]byte, error) {
	buf := make([]byte, 0, total)
	cumulative := 0
	empty := 0
	for cumulative < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.t.Write(ctx, waveformQuery); err != nil {
			return nil, err
		}
		frame, err := s.readFrame(ctx, s.cfg.ChunkTimeout)
		if err != nil {
			if !errors.Is(err, transport.ErrTimeout) {
				return nil, err
			}
			s.t.SetTimeout(s.cfg.Timeout)
			empty++
			s.logger.Warn("waveform chunk timed out",
				logging.Field{Key: "received", Value: cumulative},
				logging.Field{Key: "total", Value: total},
				logging.Field{Key: "empty_chunks", Value: empty},
			)
			if empty >= s.cfg.MaxEmptyChunks {
				return nil, fmt.Errorf("%w: %d of %d bytes after %d empty chunks", ErrReassemblyStalled, cumulative, total, empty)
			}
			continue
		}
		h, err := DecodeChunkHeader(frame)
		if err != nil {
			return nil, err
		}
		if h.SentLength > cumulative {
			return nil, fmt.Errorf("%w: chunk starts at %d but only %d bytes held", ErrReassemblyStalled, h.SentLength, cumulative)
		}
		if next := h.Cumulative(); next > cumulative {
			// A chunk overlapping held data replaces it from its own offset.
			buf = append(buf[:h.SentLength], frame[HeaderLength:len(frame)-1]...)
			cumulative = next
			empty = 0
			continue
		}
		s.logger.Debug("repeated waveform chunk dropped",
			logging.Field{Key: "sent", Value: h.SentLength},
			logging.Field{Key: "received", Value: cumulative},
		)
		empty++
		if empty >= s.cfg.MaxEmptyChunks {
			return nil, fmt.Errorf("%w: no progress past %d of %d bytes", ErrReassemblyStalled, cumulative, total)
		}
	}
	if len(buf) > total {
		s.logger.Debug("dropping bytes past declared total", logging.Field{Key: "extra", Value: len(buf) - total})
		buf = buf[:total]
	}
	if len(buf) < total {
		return nil, fmt.Errorf("%w: headers report %d bytes but %d arrived", ErrMalformedPreamble, cumulative, len(buf))
	}
	return buf, nil
}

// readFrame reads one "#9"-prefixed frame. The current length column counts
// everything but the trailing terminator byte.
func (s *Scope) readFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	s.t.SetTimeout(timeout)
	head, err := s.t.ReadBytes(ctx, lengthPrefix)
	if err != nil {
		return nil, err
	}
	if string(head[:2]) != frameTag {
		return nil, fmt.Errorf("%w: unexpected tag %q", ErrMalformedPreamble, head[:2])
	}
	current, err := lengthField(head, curSpan, "current length")
	if err != nil {
		return nil, err
	}
	size := current + 1
	if size > s.cfg.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, s.cfg.MaxFrameBytes)
	}
	if size <= lengthPrefix {
		return nil, fmt.Errorf("%w: frame length %d", ErrMalformedPreamble, size)
	}
	rest, err := s.t.ReadBytes(ctx, size-lengthPrefix)
	if err != nil {
		return nil, err
	}
	return append(head, rest...), nil
}
