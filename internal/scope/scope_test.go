package scope

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/transport/transporttest"
)

type sleepRecorder struct{ sleeps []time.Duration }

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newTestScope(t *testing.T, ft *transporttest.Scripted, cfg Config) (*Scope, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	cfg.Sleep = rec.sleep
	ft.Reply("*ESR?", "1").Reply("TIMebase:RANGe?", "0.0024")
	return New(ft, cfg, logging.New(logging.Debug, logging.Text, io.Discard)), rec
}

// queueCapture scripts one acquisition: a preamble announcing two channels of
// perChannel samples followed by data frames of at most chunk bytes.
func queueCapture(t *testing.T, ft *transporttest.Scripted, ch0, ch1 []int8, chunk int, mV [2]float64) {
	t.Helper()
	payload := make([]byte, 0, len(ch0)+len(ch1))
	for _, s := range ch0 {
		payload = append(payload, byte(s))
	}
	for _, s := range ch1 {
		payload = append(payload, byte(s))
	}
	p := Preamble{
		TotalLength:  len(payload),
		Running:      true,
		VoltageCodes: [4]float64{codeFor(mV[0]), codeFor(mV[1]), 0, 0},
		Enabled:      [4]bool{true, true, false, false},
		SamplingRate: 1e6,
	}
	ft.QueueFrame(mustPreamble(t, p, MaxPreambleLength))
	for sent := 0; sent < len(payload); sent += chunk {
		end := sent + chunk
		if end > len(payload) {
			end = len(payload)
		}
		ft.QueueFrame(EncodeDataFrame(len(payload), sent, payload[sent:end]))
	}
}

func countWrites(writes []string, cmd string) int {
	n := 0
	for _, w := range writes {
		if w == cmd {
			n++
		}
	}
	return n
}

func TestPresetSequence(t *testing.T) {
	ft := transporttest.New().Reply("CHANnel1:COUPling?", "AC").Reply("CHANnel2:COUPling?", "AC")
	s, _ := newTestScope(t, ft, Config{})
	require.NoError(t, s.Preset(context.Background()))
	assert.Equal(t, []string{
		"*CLS",
		"CHANnel1:COUPling AC", "CHANnel1:COUPling?",
		"CHANnel2:COUPling AC", "CHANnel2:COUPling?",
		"RUN ON", "*OPC", "*ESR?",
	}, ft.Writes())
}

func TestOpenClosesTransportOnPresetFailure(t *testing.T) {
	ft := transporttest.New() // no coupling replies scripted
	_, err := Open(context.Background(), ft, Config{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, ft.Closed())
}

func TestWaitGivesUpAfterPollBudget(t *testing.T) {
	ft := transporttest.New().Reply("*ESR?", "0")
	s := New(ft, Config{MaxOPCPolls: 3, OPCPollInterval: time.Microsecond}, nil)
	err := s.wait(context.Background())
	assert.ErrorIs(t, err, ErrOPCTimeout)
	assert.Equal(t, 3, countWrites(ft.Writes(), "*ESR?"))
}

func TestSetTimebaseSendsLadderValue(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})
	tb, err := s.SetTimebase(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 200e-6, tb)
	assert.Contains(t, ft.Writes(), "TIMebase:SCALe 0.0002")
}

func TestAcquireReassemblesChunks(t *testing.T) {
	ft := transporttest.New()
	s, rec := newTestScope(t, ft, Config{})

	a := make([]int8, 500)
	b := make([]int8, 500)
	for i := range a {
		a[i] = int8(100 - (i % 3))
		if i%2 == 1 {
			a[i] = -a[i]
		}
		b[i] = -a[i]
	}
	queueCapture(t, ft, a, b, 128, [2]float64{1000, 500})

	c, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, c.Raw[0])
	assert.Equal(t, b, c.Raw[1])
	assert.Empty(t, c.Raw[2])
	assert.Equal(t, 1e6, c.SampleRate)
	assert.InDelta(t, float64(a[0])*VoltsPerCode(codeFor(1000), 10), c.Volts[0][0], 1e-6)
	assert.Equal(t, []time.Duration{time.Second}, rec.sleeps)
	// one preamble request plus ceil(1000/128) data requests
	assert.Equal(t, 1+8, countWrites(ft.Writes(), "WAVEFORM:DATA:ALL?"))
}

func TestAcquireRetriesMalformedPreamble(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})

	ft.QueueFrame(EncodeDataFrame(1000, 0, make([]byte, 200))) // too long for a preamble
	a := rawWithPeak(100)
	queueCapture(t, ft, a, a, 64, [2]float64{100, 100})

	c, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, c.Raw[1])
}

func TestAcquireGivesUpAfterAttempts(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{MaxAcquireAttempts: 3})
	for i := 0; i < 5; i++ {
		ft.QueueFrame([]byte("#9000000010garbage\n"))
	}
	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPreambleRetriesExhausted)
	assert.ErrorIs(t, err, ErrMalformedPreamble)
}

func TestReassemblyStallsOnMissingChunks(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{MaxEmptyChunks: 2})
	p := Preamble{TotalLength: 100, Enabled: [4]bool{true}, SamplingRate: 1e6}
	ft.QueueFrame(mustPreamble(t, p, 117))

	_, _, err := s.readWaveform(context.Background())
	assert.ErrorIs(t, err, ErrReassemblyStalled)
}

func TestFrameLargerThanLimitIsRejected(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{MaxFrameBytes: 64})
	ft.QueueFrame(EncodeDataFrame(1000, 0, make([]byte, 100)))
	require.NoError(t, ft.Write(context.Background(), "WAVEFORM:DATA:ALL?"))
	_, err := s.readFrame(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAcquireAutoRangesUntilStable(t *testing.T) {
	ft := transporttest.New()
	s, rec := newTestScope(t, ft, Config{})

	queueCapture(t, ft, rawWithPeak(127), rawWithPeak(80), 256, [2]float64{100, 100})
	queueCapture(t, ft, rawWithPeak(60), rawWithPeak(80), 256, [2]float64{200, 100})

	c, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rawWithPeak(60), c.Raw[0])
	// channel 1 moved from 100 mV to 200 mV; the probe is 10x
	assert.Contains(t, ft.Writes(), "CHANnel1:RANGe 2000 mV")
	assert.NotContains(t, ft.Writes(), "CHANnel2:RANGe 2000 mV")
	assert.Len(t, rec.sleeps, 2)
	idx, _ := s.ranges.Index(0)
	assert.Equal(t, 5, idx)
}

func TestAcquireRangeBudget(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{MaxRangeAdjustments: 1})
	for i := 0; i < 3; i++ {
		queueCapture(t, ft, rawWithPeak(127), rawWithPeak(80), 256, [2]float64{100, 100})
	}
	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRangeNotConverged)

	// Only the step that reached the instrument is held.
	rangeWrites := 0
	for _, w := range ft.Writes() {
		if strings.HasPrefix(w, "CHANnel1:RANGe") {
			rangeWrites++
		}
	}
	assert.Equal(t, 1, rangeWrites)
	assert.Contains(t, ft.Writes(), "CHANnel1:RANGe 2000 mV")
	rs := s.Ranges()
	idx, _ := rs.Index(0)
	assert.Equal(t, 5, idx)
}

func queueTransfer(t *testing.T, ft *transporttest.Scripted, total int, chunks ...[]byte) {
	t.Helper()
	p := Preamble{TotalLength: total, Enabled: [4]bool{true, true}, SamplingRate: 1e6}
	ft.QueueFrame(mustPreamble(t, p, MinPreambleLength))
	for _, c := range chunks {
		ft.QueueFrame(c)
	}
}

func TestReassemblyDropsRepeatedChunk(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})
	queueTransfer(t, ft, 8,
		EncodeDataFrame(8, 0, []byte{1, 2, 3, 4}),
		EncodeDataFrame(8, 0, []byte{1, 2, 3, 4}),
		EncodeDataFrame(8, 4, []byte{5, 6, 7, 8}),
	)

	_, payload, err := s.readWaveform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, payload)
}

func TestReassemblyPlacesOverlappingChunkAtItsOffset(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})
	queueTransfer(t, ft, 8,
		EncodeDataFrame(8, 0, []byte{1, 2, 3, 4}),
		EncodeDataFrame(8, 2, []byte{3, 4, 5, 6}),
		EncodeDataFrame(8, 6, []byte{7, 8}),
	)

	_, payload, err := s.readWaveform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, payload)
}

func TestReassemblyRejectsGap(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})
	queueTransfer(t, ft, 8,
		EncodeDataFrame(8, 0, []byte{1, 2}),
		EncodeDataFrame(8, 4, []byte{5, 6, 7, 8}),
	)

	_, _, err := s.readWaveform(context.Background())
	assert.ErrorIs(t, err, ErrReassemblyStalled)
}

func TestCloseIsIdempotent(t *testing.T) {
	ft := transporttest.New()
	s, _ := newTestScope(t, ft, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, ft.Closed())
}
