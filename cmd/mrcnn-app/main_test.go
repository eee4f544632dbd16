package main

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-mrcnn/config"
	"github.com/nvr-ai/go-mrcnn/models"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger(false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	l, err = newLogger(true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestOverlayOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Render.MaskThreshold = 0.7
	cfg.Render.MaskAlpha = 0.25

	opts, err := overlayOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, float32(0.7), opts.MaskThreshold)
	assert.Equal(t, float32(0.25), opts.MaskAlpha)
	require.NotNil(t, opts.Classes)
	assert.Equal(t, "person", opts.Classes.Name(1))
	assert.Empty(t, opts.ClassIDs)

	cfg.Render.Classes = []string{"dog", "person"}
	opts, err = overlayOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{17, 1}, opts.ClassIDs)

	cfg.Render.Classes = []string{"unicorn"}
	_, err = overlayOptions(cfg)
	assert.ErrorContains(t, err, "render.classes")

	cfg.Model.Family = "voc"
	_, err = overlayOptions(cfg)
	assert.True(t, errors.Is(err, models.ErrUnknownFamily))
}

func TestRunUsage(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"mrcnn-app", "only-config.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<config_file> <H264 filename>")

	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 1, exit.ExitCode())
}

func TestRunMissingConfig(t *testing.T) {
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{"mrcnn-app", "/nonexistent/mrcnn.yaml", "/nonexistent/sample.h264"})
	assert.ErrorContains(t, err, "failed to read config file")
}
