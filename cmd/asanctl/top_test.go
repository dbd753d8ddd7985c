package main

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTop(t *testing.T, batch int) topModel {
	t.Helper()
	newHarness(t)
	rt, err := newRuntime(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return newTopModel(rt, batch, 64, time.Millisecond)
}

func update(t *testing.T, m topModel, msg tea.Msg) (topModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	tm, ok := next.(topModel)
	require.True(t, ok)
	return tm, cmd
}

func TestTop_TickRunsWorkload(t *testing.T) {
	m := newTestTop(t, 32)
	require.NotNil(t, m.Init())

	m, cmd := update(t, m, topTickMsg(time.Now()))
	assert.NotNil(t, cmd, "tick reschedules itself")
	assert.Equal(t, 1, m.ticks)
	assert.NoError(t, m.err)

	s := m.stats
	assert.Equal(t, uint64(32), s.Allocations+s.Deallocations)
	assert.Equal(t, len(m.live), s.Live)
	assert.Zero(t, s.Violations)
}

func TestTop_PauseStopsWorkload(t *testing.T) {
	m := newTestTop(t, 8)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	require.True(t, m.paused)
	m, _ = update(t, m, topTickMsg(time.Now()))
	assert.Zero(t, m.ticks)
	assert.Contains(t, m.View(), "paused")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	m, _ = update(t, m, topTickMsg(time.Now()))
	assert.Equal(t, 1, m.ticks)
}

func TestTop_BatchKeys(t *testing.T) {
	m := newTestTop(t, 2)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'+'}})
	assert.Equal(t, 4, m.batch)
	for range 5 {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'-'}})
	}
	assert.Equal(t, 1, m.batch, "batch never drops below one")
}

func TestTop_Quit(t *testing.T) {
	m := newTestTop(t, 1)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestTop_View(t *testing.T) {
	m := newTestTop(t, 1000)
	m, _ = update(t, m, topTickMsg(time.Now()))

	v := m.View()
	assert.Contains(t, v, "asanctl top")
	assert.Contains(t, v, "allocations")
	assert.Contains(t, v, "1,048,576 B", "arena capacity with separators")
	assert.NotContains(t, v, "stopped")
}
