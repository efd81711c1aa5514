package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/transport"
	"github.com/rjboer/GoBode/internal/transport/transporttest"
)

func TestOpenPresetsOutput(t *testing.T) {
	ft := transporttest.New()
	g, err := Open(context.Background(), ft, Config{}, nil)
	require.NoError(t, err)
	defer g.Close()

	assert.Equal(t, []string{
		"CHANnel1:OUTPut 0",
		"CHANnel1:LOAD 10000",
		"CHANnel1:AMPLitude:UNIT VPP",
		"CHANnel1:BASE:WAVe SINe",
		"CHANnel1:BASE:PHASe 0",
		"CHANnel1:BASE:AMPLitude 1",
		"CHANnel1:BASE:OFFSet 0",
		"CHANnel1:OUTPut 1",
	}, ft.Writes())
	assert.Equal(t, transport.DefaultTimeout, ft.Timeout())
}

func TestSettingsUseConfiguredChannel(t *testing.T) {
	ft := transporttest.New()
	g := New(ft, Config{Channel: 2}, nil)
	ctx := context.Background()

	require.NoError(t, g.SetFrequency(ctx, 1258.925))
	require.NoError(t, g.SetAmplitude(ctx, 0.7))
	require.NoError(t, g.SetFrequency(ctx, 800e3))
	require.NoError(t, g.Off(ctx))
	require.NoError(t, g.On(ctx))
	assert.Equal(t, []string{
		"CHANnel2:BASE:FREQuency 1258.925",
		"CHANnel2:BASE:AMPLitude 0.7",
		"CHANnel2:BASE:FREQuency 800000",
		"CHANnel2:OUTPut 0",
		"CHANnel2:OUTPut 1",
	}, ft.Writes())
}

func TestRejectsInvalidSettings(t *testing.T) {
	ft := transporttest.New()
	g := New(ft, Config{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, g.SetFrequency(ctx, 0), ErrInvalidSetting)
	assert.ErrorIs(t, g.SetFrequency(ctx, -5), ErrInvalidSetting)
	assert.ErrorIs(t, g.SetAmplitude(ctx, -0.1), ErrInvalidSetting)
	assert.NoError(t, g.SetAmplitude(ctx, 0))
	assert.Equal(t, []string{"CHANnel1:BASE:AMPLitude 0"}, ft.Writes())
}

func TestOpenClosesOnFailureAndCloseIsIdempotent(t *testing.T) {
	ft := transporttest.New()
	require.NoError(t, ft.Close())
	_, err := Open(context.Background(), ft, Config{}, nil)
	assert.ErrorIs(t, err, transport.ErrClosed)

	ft2 := transporttest.New()
	g := New(ft2, Config{}, nil)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, ft2.Closed())
}
