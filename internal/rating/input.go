package rating

// View is the rendered state of an Input.
type View struct {
	Value     float64        `json:"value"`
	Stars     [MaxStars]Star `json:"stars"`
	Label     string         `json:"label,omitempty"`
	ShowLabel bool           `json:"showLabel"`
	Size      int            `json:"size"`
}

// Option configures an Input.
type Option func(*Input)

// WithOnChange sets the commit callback. Without one the input is read-only.
func WithOnChange(fn func(float64)) Option {
	return func(in *Input) { in.onChange = fn }
}

// ReadOnly disables pointer interaction and the text label.
func ReadOnly() Option {
	return func(in *Input) { in.readOnly = true }
}

// WithSize sets the cosmetic rendering scale.
func WithSize(size int) Option {
	return func(in *Input) {
		if size > 0 {
			in.size = size
		}
	}
}

// Input is a single star-rating instance. The hover preview is owned by the
// instance and never persisted; the committed value only changes through
// SetValue.
type Input struct {
	value    float64
	hover    *float64
	readOnly bool
	onChange func(float64)
	size     int
}

// NewInput builds an Input showing the committed value.
func NewInput(value float64, opts ...Option) *Input {
	in := &Input{value: Normalize(value), size: 20}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Interactive reports whether pointer events are honoured.
func (in *Input) Interactive() bool {
	return !in.readOnly && in.onChange != nil
}

// SetValue replaces the committed value, e.g. after storage confirms a write.
func (in *Input) SetValue(v float64) {
	in.value = Normalize(v)
}

// Value is the committed rating.
func (in *Input) Value() float64 {
	return in.value
}

// Hovering reports whether a hover preview is active.
func (in *Input) Hovering() bool {
	return in.hover != nil
}

// PointerMove updates the hover preview.
func (in *Input) PointerMove(g Geometry, clientX float64) {
	if !in.Interactive() {
		return
	}
	v := ValueAt(g, clientX)
	in.hover = &v
}

// PointerLeave drops the hover preview.
func (in *Input) PointerLeave() {
	in.hover = nil
}

// Click computes the snapped value and invokes the commit callback once.
// The returned bool is false when the input is read-only.
func (in *Input) Click(g Geometry, clientX float64) (float64, bool) {
	if !in.Interactive() {
		return 0, false
	}
	v := ValueAt(g, clientX)
	in.onChange(v)
	return v, true
}

// DisplayValue is the hover preview when present, else the committed value.
func (in *Input) DisplayValue() float64 {
	if in.hover != nil {
		return *in.hover
	}
	return in.value
}

// Render produces the star fills and label for the current display value.
func (in *Input) Render() View {
	display := in.DisplayValue()
	view := View{
		Value: display,
		Stars: Stars(display),
		Size:  in.size,
	}
	if in.Interactive() {
		view.ShowLabel = true
		view.Label = Label(display)
	}
	return view
}
