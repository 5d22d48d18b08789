package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Layouts travel as a discriminated object: {"type":"pair","slot1":...}.

func marshalTagged(shape Shape, body any) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(shape)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(fields[1 : len(fields)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l BestFitLayout) MarshalJSON() ([]byte, error) {
	type wire BestFitLayout
	return marshalTagged(ShapeBestFit, wire(l))
}

func (l SingleLayout) MarshalJSON() ([]byte, error) {
	type wire SingleLayout
	return marshalTagged(ShapeSingle, wire(l))
}

func (l PairLayout) MarshalJSON() ([]byte, error) {
	type wire PairLayout
	return marshalTagged(ShapePair, wire(l))
}

func (l PictureInPictureLayout) MarshalJSON() ([]byte, error) {
	type wire PictureInPictureLayout
	return marshalTagged(ShapePictureInPicture, wire(l))
}

func (l Fitted4Layout) MarshalJSON() ([]byte, error) {
	type wire Fitted4Layout
	return marshalTagged(ShapeFitted4, wire(l))
}

func (l DualScreenLayout) MarshalJSON() ([]byte, error) {
	type wire DualScreenLayout
	return marshalTagged(ShapeDualScreen, wire(l))
}

// EncodeLayout serializes a layout in its wire form. A nil layout encodes as
// the default layout.
func EncodeLayout(layout LogicalLayout) ([]byte, error) {
	if layout == nil {
		layout = DefaultLayout()
	}
	return json.Marshal(layout)
}

// DecodeLayout parses the wire form. An empty or null payload yields the
// default layout. Only a payload that is not a JSON object is an error: an
// unrecognised tag, a non-string tag or undecodable slot fields all yield an
// UnknownLayout so one bad record never hides a session's history.
func DecodeLayout(data []byte) (LogicalLayout, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return DefaultLayout(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}

	var tag string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &tag); err != nil {
			return UnknownLayout{}, nil
		}
	}

	var (
		layout LogicalLayout
		err    error
	)
	switch Shape(tag) {
	case ShapeBestFit:
		var l BestFitLayout
		err = json.Unmarshal(data, &l)
		layout = l
	case ShapeSingle:
		var l SingleLayout
		err = json.Unmarshal(data, &l)
		layout = l
	case ShapePair:
		var l PairLayout
		err = json.Unmarshal(data, &l)
		layout = l
	case ShapePictureInPicture:
		var l PictureInPictureLayout
		err = json.Unmarshal(data, &l)
		layout = l
	case ShapeFitted4:
		var l Fitted4Layout
		err = json.Unmarshal(data, &l)
		layout = l
	case ShapeDualScreen:
		var l DualScreenLayout
		err = json.Unmarshal(data, &l)
		layout = l
	default:
		return UnknownLayout{Type: tag}, nil
	}
	if err != nil {
		return UnknownLayout{Type: tag}, nil
	}
	return layout, nil
}
