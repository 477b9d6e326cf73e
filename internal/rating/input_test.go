package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var surface = Geometry{Left: 0, Width: 200}

func TestInputClickCommitsOnce(t *testing.T) {
	var commits []float64
	in := NewInput(0, WithOnChange(func(v float64) { commits = append(commits, v) }))

	v, ok := in.Click(surface, 25)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, []float64{0.5}, commits)
	assert.Equal(t, "½", in.Render().Label)

	v, ok = in.Click(surface, 190)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
	assert.Equal(t, []float64{0.5, 5}, commits)
	assert.Equal(t, "5", Label(v))
}

func TestInputClickDoesNotChangeCommittedValue(t *testing.T) {
	in := NewInput(2, WithOnChange(func(float64) {}))
	in.Click(surface, 190)
	assert.Equal(t, 2.0, in.Value())

	in.SetValue(5)
	assert.Equal(t, 5.0, in.Value())
}

func TestInputHoverPreview(t *testing.T) {
	called := false
	in := NewInput(1, WithOnChange(func(float64) { called = true }))

	in.PointerMove(surface, 140)
	assert.True(t, in.Hovering())
	assert.Equal(t, 3.5, in.DisplayValue())
	view := in.Render()
	assert.Equal(t, "3½", view.Label)
	assert.Equal(t, 0.5, view.Stars[3].Fill)
	assert.False(t, called, "hover must never commit")

	in.PointerLeave()
	assert.False(t, in.Hovering())
	assert.Equal(t, 1.0, in.DisplayValue())
	assert.Equal(t, "1", in.Render().Label)
}

func TestInputReadOnly(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"explicit read-only", []Option{ReadOnly(), WithOnChange(func(float64) { t.Fatal("callback invoked") })}},
		{"no callback", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInput(3.33, tt.opts...)
			assert.False(t, in.Interactive())

			in.PointerMove(surface, 10)
			assert.False(t, in.Hovering())

			_, ok := in.Click(surface, 10)
			assert.False(t, ok)

			view := in.Render()
			assert.False(t, view.ShowLabel)
			assert.Empty(t, view.Label)
			assert.Equal(t, 3.33, view.Value)
			assert.InDelta(t, 0.33, view.Stars[3].Fill, 1e-9)
		})
	}
}

func TestInputClampsCommittedValue(t *testing.T) {
	assert.Equal(t, 5.0, NewInput(12).Value())
	assert.Equal(t, 0.0, NewInput(-3).Value())
	assert.Equal(t, 20, NewInput(1).Render().Size)
	assert.Equal(t, 32, NewInput(1, WithSize(32)).Render().Size)
}

func TestInputZeroWidthSurface(t *testing.T) {
	var got float64 = -1
	in := NewInput(4, WithOnChange(func(v float64) { got = v }))
	v, ok := in.Click(Geometry{}, 50)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 0.0, got)
}
