package netex

import (
	"encoding/json"
	"fmt"
	"io"
)

// Decode reads one pre-parsed document in its JSON form.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// AllFrames returns the top-level frames followed by the frames of every
// composite frame, each paired with the composite that holds it (nil for top
// level).
func (d *Document) AllFrames() []FrameGroup {
	groups := []FrameGroup{{Frames: d.Frames}}
	for i := range d.CompositeFrames {
		cf := &d.CompositeFrames[i]
		groups = append(groups, FrameGroup{Composite: cf, Frames: cf.Frames})
	}
	return groups
}

// FrameGroup is a set of frames with their enclosing composite frame.
type FrameGroup struct {
	Composite *CompositeFrame
	Frames    Frames
}

// ServiceFrames lists every service frame of the document.
func (d *Document) ServiceFrames() []ServiceFrame {
	var out []ServiceFrame
	for _, g := range d.AllFrames() {
		out = append(out, g.Frames.ServiceFrames...)
	}
	return out
}

// TimetableFrames lists every timetable frame of the document.
func (d *Document) TimetableFrames() []TimetableFrame {
	var out []TimetableFrame
	for _, g := range d.AllFrames() {
		out = append(out, g.Frames.TimetableFrames...)
	}
	return out
}

// SiteFrames lists every site frame of the document.
func (d *Document) SiteFrames() []SiteFrame {
	var out []SiteFrame
	for _, g := range d.AllFrames() {
		out = append(out, g.Frames.SiteFrames...)
	}
	return out
}
