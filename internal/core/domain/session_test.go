package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Transitions(t *testing.T) {
	now := time.Now()
	s := NewSession(now)
	assert.Equal(t, ModeStudio, s.Mode)
	assert.False(t, s.ReadyForStudio())

	later := now.Add(time.Minute)
	s2, err := s.WithUpload(Upload{Slot: SlotProduct, Filename: "bottle.png"}, later)
	require.NoError(t, err)
	assert.Nil(t, s.ProductImage, "original value is untouched")
	require.NotNil(t, s2.ProductImage)
	assert.Equal(t, "bottle.png", s2.ProductImage.Filename)
	assert.Equal(t, later, s2.UpdatedAt)

	s3, err := s2.WithUpload(Upload{Slot: SlotModel, Filename: "model.jpg"}, later)
	require.NoError(t, err)
	assert.True(t, s3.ReadyForStudio())

	_, err = s3.WithUpload(Upload{Slot: "background"}, later)
	assert.ErrorIs(t, err, ErrInvalidSlot)

	_, err = s3.WithMode("gallery", later)
	assert.ErrorIs(t, err, ErrInvalidMode)

	s4, err := s3.WithMode(ModeVoiceover, later)
	require.NoError(t, err)
	assert.Equal(t, ModeVoiceover, s4.Mode)
	assert.Equal(t, ModeStudio, s3.Mode)
}

func TestSession_WithBatchCopies(t *testing.T) {
	s := NewSession(time.Now())
	a := s.WithBatch("b1", time.Now())
	b := a.WithBatch("b2", time.Now())
	c := a.WithBatch("b3", time.Now())

	assert.Equal(t, []BatchID{"b1"}, a.Batches)
	assert.Equal(t, []BatchID{"b1", "b2"}, b.Batches)
	assert.Equal(t, []BatchID{"b1", "b3"}, c.Batches)
	assert.Empty(t, s.Batches)
}

func TestSettleStatus(t *testing.T) {
	job := func(s JobStatus) Job { return Job{Status: s} }

	assert.Equal(t, BatchStatusRunning, SettleStatus([]Job{job(JobStatusCompleted), job(JobStatusRunning)}))
	assert.Equal(t, BatchStatusCompleted, SettleStatus([]Job{job(JobStatusCompleted), job(JobStatusCompleted)}))
	assert.Equal(t, BatchStatusPartial, SettleStatus([]Job{job(JobStatusCompleted), job(JobStatusFailed)}))
	assert.Equal(t, BatchStatusFailed, SettleStatus([]Job{job(JobStatusFailed)}))
}

func TestSchedulerConfig_LimitFor(t *testing.T) {
	cfg := SchedulerConfig{ImageLimit: 4, VideoLimit: 0, AudioLimit: 2}
	assert.Equal(t, 4, cfg.LimitFor(MediaKindImage))
	assert.Equal(t, 1, cfg.LimitFor(MediaKindVideo))
	assert.Equal(t, 2, cfg.LimitFor(MediaKindAudio))
}
